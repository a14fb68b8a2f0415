package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	_ "embed"
)

const (
	// DefaultConfigFile is the config filename used when none is given.
	DefaultConfigFile = "xbp.yaml"

	// LegacyConfigFile is the pre-rename config filename. A request for
	// it falls back to DefaultConfigFile in the same directory.
	LegacyConfigFile = "xbp.yml"

	// RemoteConfigURLEnv selects a remote HTTPS config source. When set,
	// the local file path is ignored entirely.
	RemoteConfigURLEnv = "XBP_REMOTE_CONFIG_URL"

	remoteFetchTimeout = 30 * time.Second
	maxRemoteConfigSize = 1 << 20 // 1MB
)

// DefaultTemplate is the configuration written to disk on first run when
// no config file exists at the default location.
//
//go:embed xbp.yaml
var DefaultTemplate []byte

// envVarPattern matches ${{ env.NAME }} with arbitrary whitespace inside
// the braces. Group 1 is the variable name.
var envVarPattern = regexp.MustCompile(`\$\{\{\s*env\.(.*?)\s*\}\}`)

// Load resolves the active configuration from its sources.
//
// If XBP_REMOTE_CONFIG_URL is set, the configuration is fetched from
// that HTTPS endpoint and the path argument is ignored. Otherwise it is
// read from the local file at path, with two conveniences:
//
//   - a request for the legacy filename (xbp.yml) falls back to
//     xbp.yaml in the same directory when the legacy file is absent
//   - when the requested path is one of the default filenames and no
//     file exists, the embedded default template is written to xbp.yaml
//     and loaded
//
// Raw content from either source is passed through ${{ env.NAME }}
// substitution before parsing. Missing environment variables expand to
// the empty string with a warning.
func Load(ctx context.Context, path string) (*Config, error) {
	if remote := os.Getenv(RemoteConfigURLEnv); remote != "" {
		return loadRemote(ctx, remote)
	}
	return loadFile(path)
}

func loadFile(path string) (*Config, error) {
	candidates := []string{path}
	if filepath.Base(path) == LegacyConfigFile {
		candidates = append(candidates, filepath.Join(filepath.Dir(path), DefaultConfigFile))
	}

	for _, candidate := range candidates {
		data, err := os.ReadFile(candidate)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		return Parse(SubstituteEnv(data))
	}

	base := filepath.Base(path)
	if base != DefaultConfigFile && base != LegacyConfigFile {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// first run with a default filename: bootstrap the template
	createPath := filepath.Join(filepath.Dir(path), DefaultConfigFile)
	if _, err := os.Stat(createPath); errors.Is(err, fs.ErrNotExist) {
		slog.Info("config file not found, creating default", "path", createPath)
		if err := os.WriteFile(createPath, DefaultTemplate, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	return Parse(SubstituteEnv(DefaultTemplate))
}

func loadRemote(ctx context.Context, rawURL string) (*Config, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid remote config url %q: %w", rawURL, err)
	}
	if parsed.Scheme != "https" {
		return nil, fmt.Errorf("remote config url %q must use https", rawURL)
	}

	ctx, cancel := context.WithTimeout(ctx, remoteFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote config request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch remote config: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote config fetch returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteConfigSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read remote config body: %w", err)
	}

	return Parse(SubstituteEnv(data))
}

// SubstituteEnv replaces every ${{ env.NAME }} occurrence in content
// with the value of the NAME environment variable. A variable that is
// not set expands to the empty string and logs a warning.
func SubstituteEnv(content []byte) []byte {
	return envVarPattern.ReplaceAllFunc(content, func(match []byte) []byte {
		submatches := envVarPattern.FindSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		name := string(submatches[1])
		value, exists := os.LookupEnv(name)
		if !exists {
			slog.Warn("environment variable not found, defaulting to empty string", "name", name)
			return nil
		}
		return []byte(value)
	})
}
