package builder

import (
	"context"
	"errors"
	"fmt"

	"github.com/oshokin/crx-builder/internal/config"
	"github.com/oshokin/crx-builder/internal/logger"
	"github.com/oshokin/crx-builder/internal/service/lock"
)

// Options contains inputs for the build entry point.
type Options struct {
	// ConfigPath is an optional path to the settings file.
	ConfigPath string
	// Root overrides the configured working root.
	Root string
	// CodebaseURL overrides the configured base URL.
	CodebaseURL string
	// Variant overrides the configured variant when non-zero.
	Variant config.Variant
	// Packer overrides the configured packer.
	Packer string
	// Resizer overrides the configured resizer.
	Resizer string
	// Units restricts the build to these unit names; empty means all.
	Units []string
	// Strict makes Run fail when any unit failed.
	Strict bool
}

// ErrUnitsFailed is returned in strict mode when at least one unit failed.
var ErrUnitsFailed = errors.New("some units failed to build")

// Run loads settings, discovers units and builds them.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "crx-builder")

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	held, err := lock.Acquire(ctx, cfg.Root)
	if err != nil {
		return err
	}

	defer func() {
		if releaseErr := held.Release(); releaseErr != nil {
			logger.ErrorKV(ctx, "Release build lock", "error", releaseErr)
		}
	}()

	var units []string
	if len(opts.Units) == 0 {
		units, err = Discover(cfg.Root, cfg.Excluded)
	} else {
		units, err = Select(opts.Units, cfg.Excluded)
	}

	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Building extensions", "root", cfg.Root, "units", len(units), "variant", int(cfg.Variant))

	summary := NewFromConfig(cfg).Build(ctx, units)

	logger.InfoKV(ctx, "Build finished",
		"built", summary.Count(StatusBuilt),
		"up_to_date", summary.Count(StatusUpToDate),
		"failed", summary.Count(StatusFailed))

	if err = ctx.Err(); err != nil {
		return err
	}

	if opts.Strict && summary.Err() != nil {
		return fmt.Errorf("%w: %w", ErrUnitsFailed, summary.Err())
	}

	return nil
}

// loadConfig reads the settings file and applies command-line overrides.
func loadConfig(opts *Options) (*config.Config, error) {
	cfg, err := config.Read(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	if opts.Root != "" {
		cfg.Root = opts.Root
	}

	if opts.CodebaseURL != "" {
		cfg.CodebaseURL = opts.CodebaseURL
	}

	if opts.Variant != 0 {
		cfg.Variant = opts.Variant
	}

	if opts.Packer != "" {
		cfg.Packer = opts.Packer
	}

	if opts.Resizer != "" {
		cfg.Resizer = opts.Resizer
	}

	if err = config.Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
