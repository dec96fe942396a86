// Package fetch retrieves a source archive into an ephemeral workspace,
// extracts it and validates the expected layout.
package fetch

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

const (
	// DefaultRepoURL is the default source repository.
	DefaultRepoURL = "https://github.com/ollama-lan/ollama-lan"

	// DefaultRef is the default branch.
	DefaultRef = "main"

	// RepoEnvVar and RefEnvVar name the operator overrides for the reference.
	RepoEnvVar = "OLLAMA_LAN_REPO"
	RefEnvVar  = "OLLAMA_LAN_REF"
)

// Reference identifies a branch of a source repository.
type Reference struct {
	RepoURL string
	Ref     string

	// SHA256 optionally pins the archive digest (hex).
	SHA256 string
}

// ApplyDefaults sets default values for zero-valued fields.
func (r *Reference) ApplyDefaults() {
	if r.RepoURL == "" {
		r.RepoURL = DefaultRepoURL
	}
	if r.Ref == "" {
		r.Ref = DefaultRef
	}
}

// Validate checks that the reference can be turned into an archive URL.
func (r Reference) Validate() error {
	u, err := url.Parse(r.RepoURL)
	if err != nil {
		return fmt.Errorf("fetch: invalid repository URL %q: %w", r.RepoURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("fetch: repository URL %q must use http or https", r.RepoURL)
	}
	if r.RepoName() == "" {
		return fmt.Errorf("fetch: repository URL %q has no repository name", r.RepoURL)
	}
	if r.Ref == "" {
		return errors.New("fetch: ref is required")
	}
	if strings.Contains(r.Ref, "..") || strings.ContainsAny(r.Ref, " \t\n\\") {
		return fmt.Errorf("fetch: invalid ref %q", r.Ref)
	}
	if r.SHA256 != "" && !validDigest(r.SHA256) {
		return fmt.Errorf("fetch: invalid sha256 digest %q", r.SHA256)
	}
	return nil
}

// RepoName returns the last path element of the repository URL without a
// trailing ".git".
func (r Reference) RepoName() string {
	trimmed := strings.TrimRight(r.RepoURL, "/")
	u, err := url.Parse(trimmed)
	if err != nil {
		return ""
	}
	name := strings.TrimSuffix(path.Base(u.Path), ".git")
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// ArchiveURL returns <repo>/archive/refs/heads/<ref>.tar.gz.
func (r Reference) ArchiveURL() string {
	base := strings.TrimSuffix(strings.TrimRight(r.RepoURL, "/"), ".git")
	return base + "/archive/refs/heads/" + r.Ref + ".tar.gz"
}

// TopDir returns the directory name the archive is expected to unpack into:
// <repo-name>-<ref>, with "/" in the ref replaced by "-".
func (r Reference) TopDir() string {
	return r.RepoName() + "-" + strings.ReplaceAll(r.Ref, "/", "-")
}

// overrideHint names the variables an operator should check after a failure.
func overrideHint() string {
	return fmt.Sprintf("check %s and %s", RepoEnvVar, RefEnvVar)
}
