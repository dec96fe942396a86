// Package packaging installs and removes ollama-lan as a systemd service.
package packaging

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// ServiceParams is the resolved configuration rendered into the service's
// command line.
type ServiceParams struct {
	// Host is the address the UI binds to.
	// Default: 0.0.0.0
	Host string `yaml:"host"`

	// Port is the port the UI binds to.
	// Default: 11440
	Port int `yaml:"port"`

	// OllamaBaseURL is the upstream model-serving API.
	// Default: http://localhost:11434
	OllamaBaseURL string `yaml:"ollama_base_url"`

	// Model is preselected in the UI when set.
	Model string `yaml:"model,omitempty"`

	// Share enables the public share link.
	Share bool `yaml:"share"`
}

// InstallConfig holds the configuration for installing ollama-lan as a systemd service.
// InstallConfig is passed as a constructor argument; this package does no config file I/O.
type InstallConfig struct {
	// ServiceName is the systemd service name.
	// Default: ollama-lan
	ServiceName string `yaml:"service_name"`

	// InstallDir is the installation target.
	// Default: /opt/ollama-lan
	InstallDir string `yaml:"install_dir"`

	// UnitFilePath is the path for the systemd unit file.
	// Default: /etc/systemd/system/ollama-lan.service
	UnitFilePath string `yaml:"unit_file"`

	// LauncherPath is the path of the launcher script.
	// Default: /usr/local/bin/ollama-lan
	LauncherPath string `yaml:"launcher"`

	// EntryPoint is the application file name inside InstallDir.
	// Default: ollama-lan.py
	EntryPoint string `yaml:"entry_point"`

	// Manifest is the dependency manifest file name inside InstallDir.
	// Default: requirements.txt
	Manifest string `yaml:"manifest"`

	// PythonBin is the interpreter used to create the virtual environment.
	// Default: python3
	PythonBin string `yaml:"python"`

	// RepoURL and Ref select the source archive.
	RepoURL string `yaml:"repo"`
	Ref     string `yaml:"ref"`

	// SHA256 optionally pins the source archive digest.
	SHA256 string `yaml:"sha256,omitempty"`

	// RuntimeUser and RuntimeGroup own InstallDir and run the service.
	// Both are required; the CLI resolves them before constructing the installer.
	RuntimeUser  string `yaml:"user"`
	RuntimeGroup string `yaml:"group"`
	RuntimeUID   int    `yaml:"-"`
	RuntimeGID   int    `yaml:"-"`

	// NoStart writes and enables the unit without starting it.
	NoStart bool `yaml:"no_start"`

	Service ServiceParams `yaml:"service"`
}

// DefaultServiceName is the default systemd service name.
const DefaultServiceName = "ollama-lan"

// DefaultInstallDir is the default installation target.
const DefaultInstallDir = "/opt/ollama-lan"

// DefaultUnitFilePath is the default path for the systemd unit file.
const DefaultUnitFilePath = "/etc/systemd/system/ollama-lan.service"

// DefaultLauncherPath is the default path of the launcher script.
const DefaultLauncherPath = "/usr/local/bin/ollama-lan"

// DefaultEntryPoint is the default application file name.
const DefaultEntryPoint = "ollama-lan.py"

// DefaultManifest is the default dependency manifest file name.
const DefaultManifest = "requirements.txt"

// DefaultPythonBin is the default interpreter.
const DefaultPythonBin = "python3"

// DefaultHost is the default bind host.
const DefaultHost = "0.0.0.0"

// DefaultPort is the default bind port.
const DefaultPort = 11440

// DefaultOllamaBaseURL is the default upstream API.
const DefaultOllamaBaseURL = "http://localhost:11434"

// venvDirName is the virtual environment directory inside InstallDir.
const venvDirName = "venv"

// ApplyDefaults sets default values for zero-valued fields.
func (c *InstallConfig) ApplyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.InstallDir == "" {
		c.InstallDir = DefaultInstallDir
	}
	if c.UnitFilePath == "" {
		c.UnitFilePath = DefaultUnitFilePath
	}
	if c.LauncherPath == "" {
		c.LauncherPath = DefaultLauncherPath
	}
	if c.EntryPoint == "" {
		c.EntryPoint = DefaultEntryPoint
	}
	if c.Manifest == "" {
		c.Manifest = DefaultManifest
	}
	if c.PythonBin == "" {
		c.PythonBin = DefaultPythonBin
	}
	if c.Service.Host == "" {
		c.Service.Host = DefaultHost
	}
	if c.Service.Port == 0 {
		c.Service.Port = DefaultPort
	}
	if c.Service.OllamaBaseURL == "" {
		c.Service.OllamaBaseURL = DefaultOllamaBaseURL
	}
}

// Validate checks that required fields are set and values are acceptable.
func (c *InstallConfig) Validate() error {
	if err := c.ValidateTarget(); err != nil {
		return err
	}
	if c.PythonBin == "" {
		return errors.New("packaging: config: PythonBin is required")
	}
	if c.RuntimeUser == "" {
		return errors.New("packaging: config: RuntimeUser is required")
	}
	if c.RuntimeGroup == "" {
		return errors.New("packaging: config: RuntimeGroup is required")
	}
	return c.Service.Validate()
}

// ValidateTarget checks only the fields naming where the installation lives.
// Teardown needs nothing else.
func (c *InstallConfig) ValidateTarget() error {
	if c.ServiceName == "" {
		return errors.New("packaging: config: ServiceName is required")
	}
	if strings.ContainsAny(c.ServiceName, "/ \t\n") {
		return fmt.Errorf("packaging: config: invalid ServiceName %q", c.ServiceName)
	}
	for name, p := range map[string]string{
		"InstallDir":   c.InstallDir,
		"UnitFilePath": c.UnitFilePath,
		"LauncherPath": c.LauncherPath,
	} {
		if p == "" {
			return fmt.Errorf("packaging: config: %s is required", name)
		}
		if !filepath.IsAbs(p) {
			return fmt.Errorf("packaging: config: %s must be absolute, got %q", name, p)
		}
	}
	if filepath.Clean(c.InstallDir) == "/" {
		return errors.New("packaging: config: InstallDir must not be the filesystem root")
	}
	for name, f := range map[string]string{
		"EntryPoint": c.EntryPoint,
		"Manifest":   c.Manifest,
	} {
		if f == "" || f != filepath.Base(f) || f == "." || f == ".." {
			return fmt.Errorf("packaging: config: %s must be a plain file name, got %q", name, f)
		}
	}
	return nil
}

// Validate checks the service parameters.
func (p ServiceParams) Validate() error {
	if p.Host == "" {
		return errors.New("packaging: config: Host is required")
	}
	if p.Port < 1 || p.Port > 65535 {
		return fmt.Errorf("packaging: config: Port must be in 1-65535, got %d", p.Port)
	}
	u, err := url.Parse(p.OllamaBaseURL)
	if err != nil {
		return fmt.Errorf("packaging: config: invalid OllamaBaseURL %q: %w", p.OllamaBaseURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("packaging: config: OllamaBaseURL %q must be an http(s) URL", p.OllamaBaseURL)
	}
	return nil
}

// VenvDir returns the virtual environment directory.
func (c *InstallConfig) VenvDir() string {
	return filepath.Join(c.InstallDir, venvDirName)
}

// VenvPython returns the interpreter inside the virtual environment.
func (c *InstallConfig) VenvPython() string {
	return filepath.Join(c.VenvDir(), "bin", "python")
}

// EntryPointPath returns the installed entry point.
func (c *InstallConfig) EntryPointPath() string {
	return filepath.Join(c.InstallDir, c.EntryPoint)
}

// ManifestPath returns the installed dependency manifest.
func (c *InstallConfig) ManifestPath() string {
	return filepath.Join(c.InstallDir, c.Manifest)
}

// UnitName returns the service name with the .service suffix.
func (c *InstallConfig) UnitName() string {
	return unitName(c.ServiceName)
}

func unitName(service string) string {
	if strings.HasSuffix(service, ".service") {
		return service
	}
	return service + ".service"
}

// truthy lists the accepted spellings for boolean overrides.
var truthy = map[string]bool{
	"1":    true,
	"true": true,
	"yes":  true,
	"y":    true,
	"on":   true,
}

// ParseTruthy reports whether s is one of the recognised truthy spellings
// (1, true, yes, y, on), ignoring case and surrounding whitespace.
func ParseTruthy(s string) bool {
	return truthy[strings.ToLower(strings.TrimSpace(s))]
}
