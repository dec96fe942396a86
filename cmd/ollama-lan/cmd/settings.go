package cmd

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ollama-lan/ollama-lan/internal/fetch"
	"github.com/ollama-lan/ollama-lan/internal/packaging"
)

// envPrefix is the prefix of every environment override (OLLAMA_LAN_PORT, ...).
const envPrefix = "OLLAMA_LAN"

// Flag names shared by several commands.
const (
	flagConfig         = "config"
	flagLogLevel       = "log-level"
	flagRepo           = "repo"
	flagRef            = "ref"
	flagSHA256         = "sha256"
	flagInstallDir     = "install-dir"
	flagUser           = "user"
	flagGroup          = "group"
	flagHost           = "host"
	flagPort           = "port"
	flagOllamaBaseURL  = "ollama-base-url"
	flagModel          = "model"
	flagShare          = "share"
	flagPython         = "python"
	flagFetchTool      = "fetch-tool"
	flagServiceManager = "service-manager"
	flagNoStart        = "no-start"
)

// Service manager backends.
const (
	managerSystemctl = "systemctl"
	managerDBus      = "dbus"
)

// settingKeys maps viper keys to the flag that overrides them. The viper
// key doubles as the environment suffix and the config file key.
var settingKeys = map[string]string{
	"repo":            flagRepo,
	"ref":             flagRef,
	"sha256":          flagSHA256,
	"install_dir":     flagInstallDir,
	"user":            flagUser,
	"group":           flagGroup,
	"host":            flagHost,
	"port":            flagPort,
	"ollama_base_url": flagOllamaBaseURL,
	"model":           flagModel,
	"share":           flagShare,
	"python":          flagPython,
	"fetch_tool":      flagFetchTool,
	"service_manager": flagServiceManager,
	"log_level":       flagLogLevel,
	"no_start":        flagNoStart,
}

// settings is the flat, layered configuration: defaults, then the config
// file, then OLLAMA_LAN_* environment variables, then flags.
type settings struct {
	Repo           string `mapstructure:"repo" yaml:"repo"`
	Ref            string `mapstructure:"ref" yaml:"ref"`
	SHA256         string `mapstructure:"sha256" yaml:"sha256"`
	InstallDir     string `mapstructure:"install_dir" yaml:"install_dir"`
	User           string `mapstructure:"user" yaml:"user"`
	Group          string `mapstructure:"group" yaml:"group"`
	Host           string `mapstructure:"host" yaml:"host"`
	Port           int    `mapstructure:"port" yaml:"port"`
	OllamaBaseURL  string `mapstructure:"ollama_base_url" yaml:"ollama_base_url"`
	Model          string `mapstructure:"model" yaml:"model"`
	Share          string `mapstructure:"share" yaml:"share"`
	Python         string `mapstructure:"python" yaml:"python"`
	FetchTool      string `mapstructure:"fetch_tool" yaml:"fetch_tool"`
	ServiceManager string `mapstructure:"service_manager" yaml:"service_manager"`
	LogLevel       string `mapstructure:"log_level" yaml:"log_level"`
	NoStart        bool   `mapstructure:"no_start" yaml:"no_start"`
}

// settingDefaults holds the default of every key in settingKeys.
var settingDefaults = map[string]any{
	"repo":            fetch.DefaultRepoURL,
	"ref":             fetch.DefaultRef,
	"sha256":          "",
	"install_dir":     packaging.DefaultInstallDir,
	"user":            "",
	"group":           "",
	"host":            packaging.DefaultHost,
	"port":            packaging.DefaultPort,
	"ollama_base_url": packaging.DefaultOllamaBaseURL,
	"model":           "",
	"share":           "",
	"python":          packaging.DefaultPythonBin,
	"fetch_tool":      fetch.ToolHTTP,
	"service_manager": managerSystemctl,
	"log_level":       defaultLogLevel,
	"no_start":        false,
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	for key, def := range settingDefaults {
		v.SetDefault(key, def)
	}
	return v
}

// loadSettings resolves the layered configuration for a command. Only the
// flags present in flags are bound, so commands sharing a key never
// override each other. Keys the command has no flag for are pinned to
// their defaults: a bad value for a setting the command never reads
// must not fail it.
func loadSettings(flags *pflag.FlagSet) (settings, error) {
	v := newViper()

	for key, name := range settingKeys {
		f := flags.Lookup(name)
		switch {
		case f != nil:
			if err := v.BindPFlag(key, f); err != nil {
				return settings{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		case key != "log_level":
			v.Set(key, settingDefaults[key])
		}
	}

	if f := flags.Lookup(flagConfig); f != nil && f.Value.String() != "" {
		v.SetConfigFile(f.Value.String())
		if err := v.ReadInConfig(); err != nil {
			return settings{}, fmt.Errorf("read config %s: %w", f.Value.String(), err)
		}
	}

	var s settings
	if err := v.Unmarshal(&s); err != nil {
		return settings{}, fmt.Errorf("decode config: %w", err)
	}
	return s, nil
}

// installConfig converts s into the packaging configuration. The runtime
// identity is filled in separately.
func (s settings) installConfig() packaging.InstallConfig {
	cfg := packaging.InstallConfig{
		InstallDir:   s.InstallDir,
		PythonBin:    s.Python,
		RepoURL:      s.Repo,
		Ref:          s.Ref,
		SHA256:       s.SHA256,
		RuntimeUser:  s.User,
		RuntimeGroup: s.Group,
		NoStart:      s.NoStart,
		Service: packaging.ServiceParams{
			Host:          s.Host,
			Port:          s.Port,
			OllamaBaseURL: s.OllamaBaseURL,
			Model:         s.Model,
			Share:         packaging.ParseTruthy(s.Share),
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// addTargetFlags registers the flags naming where the installation lives.
func addTargetFlags(fs *pflag.FlagSet) {
	fs.String(flagInstallDir, packaging.DefaultInstallDir, "installation directory")
	fs.String(flagServiceManager, managerSystemctl, "service manager backend (systemctl, dbus)")
}

// addInstallFlags registers the flags of the install command.
func addInstallFlags(fs *pflag.FlagSet) {
	addTargetFlags(fs)
	fs.String(flagRepo, fetch.DefaultRepoURL, "source repository URL")
	fs.String(flagRef, fetch.DefaultRef, "source branch")
	fs.String(flagSHA256, "", "expected SHA-256 of the source archive")
	fs.String(flagUser, "", "runtime user (default: the invoking user)")
	fs.String(flagGroup, "", "runtime group (default: the runtime user's primary group)")
	fs.String(flagHost, packaging.DefaultHost, "address the UI binds to")
	fs.Int(flagPort, packaging.DefaultPort, "port the UI binds to")
	fs.String(flagOllamaBaseURL, packaging.DefaultOllamaBaseURL, "model API base URL")
	fs.String(flagModel, "", "model preselected in the UI")
	fs.Bool(flagShare, false, "enable the public share link")
	fs.String(flagPython, packaging.DefaultPythonBin, "interpreter used to create the virtual environment")
	fs.String(flagFetchTool, fetch.ToolHTTP, "downloader (http, external)")
	fs.Bool(flagNoStart, false, "register and enable the service without starting it")
}
