package packaging

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/coreos/go-systemd/v22/unit"
)

// restartDelaySeconds is the backoff between restarts after a failure.
const restartDelaySeconds = 2

// UnitParams is the typed input to RenderUnit.
type UnitParams struct {
	Description      string
	User             string
	Group            string
	WorkingDirectory string

	// ExecStart is the argument vector; element 0 is the executable.
	ExecStart []string
}

// UnitFile is a rendered, validated unit description.
type UnitFile struct {
	Options []*unit.UnitOption
	Content []byte
}

// ExecStartArgs builds the service command line from cfg:
// <venv>/bin/python <dir>/<entry> --host H --port P --ollama-base-url URL [--model M] [--share].
func ExecStartArgs(cfg InstallConfig) []string {
	cfg.ApplyDefaults()
	args := []string{
		cfg.VenvPython(),
		cfg.EntryPointPath(),
		"--host", cfg.Service.Host,
		"--port", strconv.Itoa(cfg.Service.Port),
		"--ollama-base-url", cfg.Service.OllamaBaseURL,
	}
	if cfg.Service.Model != "" {
		args = append(args, "--model", cfg.Service.Model)
	}
	if cfg.Service.Share {
		args = append(args, "--share")
	}
	return args
}

// UnitParamsFor derives the unit parameters from cfg.
func UnitParamsFor(cfg InstallConfig) UnitParams {
	cfg.ApplyDefaults()
	return UnitParams{
		Description:      "ollama-lan chat UI",
		User:             cfg.RuntimeUser,
		Group:            cfg.RuntimeGroup,
		WorkingDirectory: cfg.InstallDir,
		ExecStart:        ExecStartArgs(cfg),
	}
}

// Validate rejects parameters that cannot be represented in a unit file.
func (p UnitParams) Validate() error {
	if p.User == "" {
		return errors.New("packaging: unit: User is required")
	}
	if p.WorkingDirectory == "" {
		return errors.New("packaging: unit: WorkingDirectory is required")
	}
	if len(p.ExecStart) == 0 || p.ExecStart[0] == "" {
		return errors.New("packaging: unit: ExecStart is required")
	}
	values := append([]string{p.Description, p.User, p.Group, p.WorkingDirectory}, p.ExecStart...)
	for _, v := range values {
		if strings.ContainsAny(v, "\n\r\x00") {
			return fmt.Errorf("packaging: unit: value %q contains a line break or NUL", v)
		}
	}
	return nil
}

// QuoteExecArg quotes one argument for an ExecStart= line. Backslashes and
// double quotes are escaped, "%" and "$" are doubled so systemd does not
// expand specifiers or variables, and the result is wrapped in double quotes.
func QuoteExecArg(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\', '"':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '%':
			b.WriteString("%%")
		case '$':
			b.WriteString("$$")
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// EscapeSpecifiers doubles "%" so systemd reads s literally in settings
// that expand specifiers.
func EscapeSpecifiers(s string) string {
	return strings.ReplaceAll(s, "%", "%%")
}

// ExecLine joins args into a quoted ExecStart= value.
func ExecLine(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = QuoteExecArg(a)
	}
	return strings.Join(quoted, " ")
}

// RenderUnit produces the unit description for p. Identical params always
// render identical bytes.
func RenderUnit(p UnitParams) (UnitFile, error) {
	if err := p.Validate(); err != nil {
		return UnitFile{}, err
	}

	opts := []*unit.UnitOption{
		unit.NewUnitOption("Unit", "Description", EscapeSpecifiers(p.Description)),
		unit.NewUnitOption("Unit", "After", "network-online.target"),
		unit.NewUnitOption("Unit", "Wants", "network-online.target"),

		unit.NewUnitOption("Service", "Type", "simple"),
		unit.NewUnitOption("Service", "User", EscapeSpecifiers(p.User)),
	}
	if p.Group != "" {
		opts = append(opts, unit.NewUnitOption("Service", "Group", EscapeSpecifiers(p.Group)))
	}
	opts = append(opts,
		unit.NewUnitOption("Service", "WorkingDirectory", EscapeSpecifiers(p.WorkingDirectory)),
		unit.NewUnitOption("Service", "ExecStart", ExecLine(p.ExecStart)),
		unit.NewUnitOption("Service", "Restart", "on-failure"),
		unit.NewUnitOption("Service", "RestartSec", strconv.Itoa(restartDelaySeconds)),

		unit.NewUnitOption("Install", "WantedBy", "multi-user.target"),
	)

	content, err := io.ReadAll(unit.Serialize(opts))
	if err != nil {
		return UnitFile{}, fmt.Errorf("packaging: unit: serialize: %w", err)
	}
	return UnitFile{Options: opts, Content: content}, nil
}

// ParseUnit reads a unit description back into options.
func ParseUnit(data []byte) ([]*unit.UnitOption, error) {
	opts, err := unit.Deserialize(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("packaging: unit: parse: %w", err)
	}
	return opts, nil
}

// Value returns the first value of section/name, or "".
func (u UnitFile) Value(section, name string) string {
	return optionValue(u.Options, section, name)
}

func optionValue(opts []*unit.UnitOption, section, name string) string {
	for _, o := range opts {
		if o.Section == section && o.Name == name {
			return o.Value
		}
	}
	return ""
}
