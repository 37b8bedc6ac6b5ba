package builder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/oshokin/crx-builder/internal/config"
	"github.com/oshokin/crx-builder/internal/domain/extension"
	"github.com/oshokin/crx-builder/internal/identity"
	"github.com/oshokin/crx-builder/internal/logger"
	"github.com/oshokin/crx-builder/internal/repository/record"
	"github.com/oshokin/crx-builder/internal/runner"
	"github.com/oshokin/crx-builder/internal/service/crx"
	"github.com/oshokin/crx-builder/internal/service/icons"
	"github.com/oshokin/crx-builder/internal/service/index"
	"github.com/oshokin/crx-builder/internal/service/updatexml"
	"github.com/oshokin/crx-builder/internal/staleness"
)

const (
	dirPermissions  = 0o755
	filePermissions = 0o644
)

// Builder runs the packaging pipeline for extension units.
type Builder struct {
	// cfg holds the build settings.
	cfg *config.Config
	// resizer produces the sized icons.
	resizer icons.Resizer
	// packer produces signed packages.
	packer crx.Packer
}

// New creates a Builder with explicit collaborators.
func New(cfg *config.Config, resizer icons.Resizer, packer crx.Packer) *Builder {
	return &Builder{
		cfg:     cfg,
		resizer: resizer,
		packer:  packer,
	}
}

// NewFromConfig picks the resizer and packer named in cfg.
func NewFromConfig(cfg *config.Config) *Builder {
	commands := &runner.ExecRunner{Timeout: cfg.ToolTimeout}

	var resizer icons.Resizer = icons.BuiltinResizer{}
	if cfg.Resizer == config.ResizerConvert {
		resizer = &icons.ConvertResizer{Runner: commands, Binary: cfg.ConvertBinary}
	}

	var packer crx.Packer = crx.BuiltinPacker{}
	if cfg.Packer == config.PackerChrome {
		packer = &crx.ChromePacker{Runner: commands, Binary: cfg.ChromeBinary, Profile: cfg.ChromeProfile}
	}

	return New(cfg, resizer, packer)
}

// Build processes units in order and, for the index variant, regenerates
// the index page afterwards.
func (b *Builder) Build(ctx context.Context, units []string) *Summary {
	summary := new(Summary)

	for _, name := range units {
		if err := ctx.Err(); err != nil {
			summary.fail(err)
			break
		}

		unit := extension.NewUnit(b.cfg.Root, name)
		summary.add(b.processUnit(logger.WithKV(ctx, "unit", name), unit))
	}

	if b.cfg.Variant == config.VariantIndex && ctx.Err() == nil {
		if err := b.regenerateIndex(ctx, summary.Outcomes); err != nil {
			logger.ErrorKV(ctx, "Index regeneration failed", "error", err)
			summary.fail(err)
		}
	}

	return summary
}

// processUnit checks staleness and rebuilds the unit when needed.
func (b *Builder) processUnit(ctx context.Context, unit extension.Unit) Outcome {
	outcome := Outcome{Unit: unit.Name}

	verdict, err := staleness.NewTracker(unit.SourceDir(), record.ForUnit(unit.Dir)).Check(ctx)
	if err != nil {
		return failed(ctx, outcome, fmt.Errorf("check staleness: %w", err))
	}

	outcome.Reason = verdict.Reason

	if !verdict.Rebuild {
		outcome.ID, err = identity.FromKeyFile(unit.KeyPath())
		if err != nil {
			return failed(ctx, outcome, err)
		}

		outcome.Status = StatusUpToDate

		logger.InfoKV(ctx, "Up to date", "id", outcome.ID)

		return outcome
	}

	if verdict.Reason == staleness.ReasonInvalidRecord {
		logger.WarnKV(ctx, "Invalid staleness record, rebuilding", "path", record.ForUnit(unit.Dir).Path())
	}

	logger.InfoKV(ctx, "Generating", "reason", verdict.Reason)

	outcome.ID, err = b.generate(ctx, unit, verdict.LatestSource)
	if err != nil {
		return failed(ctx, outcome, err)
	}

	outcome.Status = StatusBuilt

	logger.InfoKV(ctx, "Packaged", "id", outcome.ID)

	return outcome
}

// generate rebuilds every output of unit. latestSource is the value the
// staleness record receives once all outputs are in place.
func (b *Builder) generate(ctx context.Context, unit extension.Unit, latestSource float64) (string, error) {
	manifest, err := extension.LoadManifest(unit.SourceManifest())
	if err != nil {
		return "", err
	}

	if err = b.prepareDist(ctx, unit); err != nil {
		return "", err
	}

	id, err := b.pack(ctx, unit)
	if err != nil {
		return "", err
	}

	if err = b.writeUpdateManifest(unit, id, manifest); err != nil {
		return "", err
	}

	if b.cfg.Variant == config.VariantIndex {
		if err = copyFile(unit.SizedIcon(largest(b.cfg.IconSizes)), unit.IndexIcon()); err != nil {
			return "", fmt.Errorf("copy index icon: %w", err)
		}
	}

	if err = record.ForUnit(unit.Dir).Save(ctx, latestSource); err != nil {
		return "", err
	}

	return id, nil
}

// prepareDist recreates the dist directory with the manifest and icons.
func (b *Builder) prepareDist(ctx context.Context, unit extension.Unit) error {
	if err := os.RemoveAll(unit.DistDir()); err != nil {
		return fmt.Errorf("remove dist: %w", err)
	}

	if err := os.MkdirAll(unit.DistDir(), dirPermissions); err != nil {
		return fmt.Errorf("create dist: %w", err)
	}

	if err := copyFile(unit.SourceManifest(), filepath.Join(unit.DistDir(), extension.ManifestFilename)); err != nil {
		return fmt.Errorf("copy manifest: %w", err)
	}

	for _, size := range b.cfg.IconSizes {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := b.resizer.Resize(ctx, unit.SourceIcon(), size, unit.SizedIcon(size)); err != nil {
			return fmt.Errorf("icon %d: %w", size, err)
		}
	}

	return nil
}

// pack signs the dist directory, keeps a newly generated key and names the
// package after the identifier.
func (b *Builder) pack(ctx context.Context, unit extension.Unit) (string, error) {
	req := crx.Request{Dir: unit.DistDir()}

	_, err := os.Stat(unit.KeyPath())

	switch {
	case err == nil:
		req.KeyPath = unit.KeyPath()
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("stat signing key: %w", err)
	}

	res, err := b.packer.Pack(ctx, req)
	if err != nil {
		return "", err
	}

	if res.GeneratedKey != "" {
		if err = os.Rename(res.GeneratedKey, unit.KeyPath()); err != nil {
			return "", fmt.Errorf("persist signing key: %w", err)
		}

		logger.InfoKV(ctx, "Created signing key", "path", unit.KeyPath())
	}

	id, err := identity.FromKeyFile(unit.KeyPath())
	if err != nil {
		return "", err
	}

	if err = os.Rename(res.Package, unit.PackagePath(id)); err != nil {
		return "", fmt.Errorf("rename package: %w", err)
	}

	return id, nil
}

func (b *Builder) writeUpdateManifest(unit extension.Unit, id string, manifest *extension.Manifest) error {
	version := b.cfg.FixedVersion
	if b.cfg.VersionSource == config.VersionSourceManifest {
		version = manifest.Version
	}

	doc, err := updatexml.New(b.cfg.CodebaseURL, unit.Name, id, version)
	if err != nil {
		return err
	}

	return doc.Write(unit.UpdateManifestPath())
}

// regenerateIndex lists every published unit under the root, not only the
// units of this run. Units built or up to date now use the run's
// identifier; the rest are listed when their key and package exist.
func (b *Builder) regenerateIndex(ctx context.Context, outcomes []Outcome) error {
	units, err := Discover(b.cfg.Root, b.cfg.Excluded)
	if err != nil {
		return err
	}

	current := make(map[string]string, len(outcomes))

	for _, o := range outcomes {
		if o.Status != StatusFailed {
			current[o.Unit] = o.ID
		}
	}

	entries := make([]index.Entry, 0, len(units))

	for _, name := range units {
		id, ok := current[name]
		if !ok {
			id, err = publishedID(extension.NewUnit(b.cfg.Root, name))
			if err != nil {
				logger.WarnKV(ctx, "Leaving unit out of the index", "unit", name, "error", err)
				continue
			}
		}

		entries = append(entries, index.Entry{Unit: name, ID: id})
	}

	path := filepath.Join(b.cfg.Root, b.cfg.IndexFile)
	if err = index.Regenerate(path, b.cfg.IndexContainer, entries); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Index regenerated", "path", path, "entries", len(entries))

	return nil
}

// publishedID returns the identifier of a unit whose package from an
// earlier build is still in place.
func publishedID(unit extension.Unit) (string, error) {
	id, err := identity.FromKeyFile(unit.KeyPath())
	if err != nil {
		return "", err
	}

	if _, err = os.Stat(unit.PackagePath(id)); err != nil {
		return "", fmt.Errorf("no package: %w", err)
	}

	return id, nil
}

func failed(ctx context.Context, o Outcome, err error) Outcome {
	o.Status = StatusFailed
	o.Err = fmt.Errorf("%s: %w", o.Unit, err)

	logger.ErrorKV(ctx, "Build failed", "error", err)

	return o
}

func largest(sizes []int) int {
	if len(sizes) == 0 {
		return 0
	}

	return slices.Max(sizes)
}

func copyFile(src, dst string) error {
	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}

	defer func() {
		_ = in.Close()
	}()

	out, err := os.OpenFile(filepath.Clean(dst), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePermissions)
	if err != nil {
		return err
	}

	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}

	return out.Close()
}
