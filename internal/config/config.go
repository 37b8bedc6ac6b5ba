package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/crx-builder/internal/service/icons"
)

// Variant selects which outputs a build produces.
type Variant int

const (
	// VariantPackages produces packages and update manifests only.
	VariantPackages Variant = 1
	// VariantIndex also maintains unit icons and the HTML index page.
	VariantIndex Variant = 2
)

// Version sources for the update manifest.
const (
	VersionSourceFixed    = "fixed"
	VersionSourceManifest = "manifest"
)

// Resizer and packer implementations.
const (
	ResizerBuiltin = "builtin"
	ResizerConvert = "convert"
	PackerBuiltin  = "builtin"
	PackerChrome   = "chrome"
)

// Config holds the settings of a build.
type Config struct {
	// Root is the working directory containing extension units.
	Root string `yaml:"root"`
	// CodebaseURL is the public base URL the root is published under.
	CodebaseURL string `yaml:"codebase_url"`
	// Variant is 1 for packages only, 2 for packages plus index page.
	Variant Variant `yaml:"variant"`
	// VersionSource is "fixed" or "manifest".
	VersionSource string `yaml:"version_source"`
	// FixedVersion is written to update manifests when VersionSource is "fixed".
	FixedVersion string `yaml:"fixed_version"`
	// Excluded lists root entries that are never treated as units.
	Excluded []string `yaml:"excluded"`
	// IconSizes are the generated icon sizes in pixels.
	IconSizes []int `yaml:"icon_sizes"`
	// Resizer is "builtin" or "convert".
	Resizer string `yaml:"resizer"`
	// ConvertBinary is the ImageMagick executable.
	ConvertBinary string `yaml:"convert_binary"`
	// Packer is "builtin" or "chrome".
	Packer string `yaml:"packer"`
	// ChromeBinary is the browser executable.
	ChromeBinary string `yaml:"chrome_binary"`
	// ChromeProfile is the browser --user-data-dir used for packing.
	ChromeProfile string `yaml:"chrome_profile"`
	// ToolTimeout bounds each external tool invocation; zero means no limit.
	ToolTimeout time.Duration `yaml:"tool_timeout"`
	// IndexFile is the index page path relative to Root.
	IndexFile string `yaml:"index_file"`
	// IndexContainer is the id of the element listing the extensions.
	IndexContainer string `yaml:"index_container"`
	// ListenAddress is used by the preview server.
	ListenAddress string `yaml:"listen_address"`
}

const (
	// DefaultConfigFilename is the default settings file.
	DefaultConfigFilename = "crx-builder.yaml"

	// DefaultCodebaseURL is where packages are published by default.
	DefaultCodebaseURL = "https://raw.githubusercontent.com/korylprince/chrome_icons/master"

	// DefaultFixedVersion is the update manifest version in fixed mode.
	DefaultFixedVersion = "2.0"

	// DefaultListenAddress is the preview server address.
	DefaultListenAddress = "127.0.0.1:8000"

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errCodebaseRequired is returned when the codebase URL is missing.
	errCodebaseRequired = errors.New("codebase URL must be provided")
	// errInvalidValue is returned for settings outside their allowed values.
	errInvalidValue = errors.New("invalid setting")
)

// Default returns the settings used when no file is present.
func Default() *Config {
	cfg := new(Config)
	_ = Validate(cfg) //nolint:errcheck // Defaults always validate.

	return cfg
}

// Load reads configuration from path and validates it. A missing file at
// the default location yields Default().
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}

	if err = Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Read parses the settings file without applying defaults, so callers can
// layer overrides before Validate. A missing file at the default location
// yields an empty Config.
func Read(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return new(Config), nil
		}

		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err = yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	return &cfg, nil
}

// Save writes settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate fills defaults and checks the settings.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	applyDefaults(cfg)

	if cfg.CodebaseURL == "" {
		return errCodebaseRequired
	}

	if _, err := url.ParseRequestURI(cfg.CodebaseURL); err != nil {
		return fmt.Errorf("invalid codebase URL: %w", err)
	}

	if cfg.Variant != VariantPackages && cfg.Variant != VariantIndex {
		return fmt.Errorf("%w: variant %d", errInvalidValue, cfg.Variant)
	}

	if !slices.Contains([]string{VersionSourceFixed, VersionSourceManifest}, cfg.VersionSource) {
		return fmt.Errorf("%w: version_source %q", errInvalidValue, cfg.VersionSource)
	}

	if !slices.Contains([]string{ResizerBuiltin, ResizerConvert}, cfg.Resizer) {
		return fmt.Errorf("%w: resizer %q", errInvalidValue, cfg.Resizer)
	}

	if !slices.Contains([]string{PackerBuiltin, PackerChrome}, cfg.Packer) {
		return fmt.Errorf("%w: packer %q", errInvalidValue, cfg.Packer)
	}

	for _, size := range cfg.IconSizes {
		if size <= 0 {
			return fmt.Errorf("%w: icon size %d", errInvalidValue, size)
		}
	}

	if cfg.ToolTimeout < 0 {
		return fmt.Errorf("%w: negative tool_timeout", errInvalidValue)
	}

	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Root == "" {
		cfg.Root = "."
	}

	if cfg.CodebaseURL == "" {
		cfg.CodebaseURL = DefaultCodebaseURL
	}

	if cfg.Variant == 0 {
		cfg.Variant = VariantPackages
	}

	if cfg.VersionSource == "" {
		cfg.VersionSource = VersionSourceFixed
		if cfg.Variant == VariantIndex {
			cfg.VersionSource = VersionSourceManifest
		}
	}

	if cfg.FixedVersion == "" {
		cfg.FixedVersion = DefaultFixedVersion
	}

	if cfg.Excluded == nil {
		cfg.Excluded = []string{".git"}
		if cfg.Variant == VariantPackages {
			cfg.Excluded = append(cfg.Excluded, "docs")
		}
	}

	if len(cfg.IconSizes) == 0 {
		cfg.IconSizes = slices.Clone(icons.DefaultSizes)
	}

	if cfg.Resizer == "" {
		cfg.Resizer = ResizerBuiltin
	}

	if cfg.Packer == "" {
		cfg.Packer = PackerBuiltin
	}

	if cfg.IndexFile == "" {
		cfg.IndexFile = "index.html"
	}

	if cfg.IndexContainer == "" {
		cfg.IndexContainer = "apps"
	}

	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
}
