package builder

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/crx-builder/internal/config"
	"github.com/oshokin/crx-builder/internal/domain/extension"
	"github.com/oshokin/crx-builder/internal/identity"
	"github.com/oshokin/crx-builder/internal/repository/record"
	"github.com/oshokin/crx-builder/internal/runner"
	"github.com/oshokin/crx-builder/internal/service/crx"
	"github.com/oshokin/crx-builder/internal/service/icons"
	"github.com/oshokin/crx-builder/internal/service/updatexml"
	"github.com/oshokin/crx-builder/internal/staleness"
)

const testCodebase = "https://example.com/icons"

// sourceTime is the mtime given to every source file.
var sourceTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) //nolint:gochecknoglobals // Test fixture.

func newConfig(t *testing.T, root string, variant config.Variant) *config.Config {
	t.Helper()

	cfg := &config.Config{Root: root, CodebaseURL: testCodebase, Variant: variant}
	require.NoError(t, config.Validate(cfg))

	return cfg
}

// writeUnit creates root/name/src with an icon and a manifest.
func writeUnit(t *testing.T, root, name, manifest string) extension.Unit {
	t.Helper()

	unit := extension.NewUnit(root, name)
	require.NoError(t, os.MkdirAll(unit.SourceDir(), 0o755))

	img := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	for i := range 64 {
		img.SetNRGBA(i, i, color.NRGBA{R: 255, A: 255})
	}

	f, err := os.Create(unit.SourceIcon())
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	require.NoError(t, os.WriteFile(unit.SourceManifest(), []byte(manifest), 0o600))

	for _, path := range []string{unit.SourceIcon(), unit.SourceManifest()} {
		require.NoError(t, os.Chtimes(path, sourceTime, sourceTime))
	}

	return unit
}

func manifestJSON(name, version string) string {
	return `{"manifest_version": 3, "name": "` + name + `", "version": "` + version + `"}`
}

type fileState struct {
	modTime time.Time
	content string
}

// snapshot records mtime and content of every file under dir.
func snapshot(t *testing.T, dir string) map[string]fileState {
	t.Helper()

	files := make(map[string]fileState)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		files[path] = fileState{modTime: info.ModTime(), content: string(data)}

		return nil
	})
	require.NoError(t, err)

	return files
}

func builtin(cfg *config.Config) *Builder {
	return New(cfg, icons.BuiltinResizer{}, crx.BuiltinPacker{})
}

// TestBuild_FirstRun builds a fresh unit end to end.
func TestBuild_FirstRun(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	unit := writeUnit(t, root, "weather", manifestJSON("Weather", "1.3"))

	latest, err := staleness.LatestModification(unit.SourceDir())
	require.NoError(t, err)

	summary := builtin(newConfig(t, root, config.VariantPackages)).Build(context.Background(), []string{"weather"})
	require.NoError(t, summary.Err())
	require.Len(t, summary.Outcomes, 1)

	outcome := summary.Outcomes[0]
	require.Equal(t, StatusBuilt, outcome.Status)
	require.Equal(t, staleness.ReasonMissingRecord, outcome.Reason)
	require.True(t, identity.Valid(outcome.ID))

	keyID, err := identity.FromKeyFile(unit.KeyPath())
	require.NoError(t, err)
	require.Equal(t, keyID, outcome.ID)

	pkg, err := os.ReadFile(unit.PackagePath(outcome.ID))
	require.NoError(t, err)

	info, err := crx.Decode(pkg)
	require.NoError(t, err)
	require.Equal(t, outcome.ID, info.ID)

	doc, err := updatexml.Read(unit.UpdateManifestPath())
	require.NoError(t, err)
	require.Equal(t, outcome.ID, doc.App.ID)
	require.Equal(t, "2.0", doc.App.UpdateCheck.Version)
	require.Equal(t, testCodebase+"/weather/"+outcome.ID+".crx", doc.App.UpdateCheck.Codebase)

	recorded, err := record.ForUnit(unit.Dir).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, latest, recorded) //nolint:testifylint // Exact equality is required.

	copied, err := os.ReadFile(filepath.Join(unit.DistDir(), extension.ManifestFilename))
	require.NoError(t, err)
	require.Equal(t, manifestJSON("Weather", "1.3"), string(copied))

	for _, size := range icons.DefaultSizes {
		require.FileExists(t, unit.SizedIcon(size))
	}

	require.NoFileExists(t, crx.PackagePath(unit.DistDir()))
	require.NoFileExists(t, crx.GeneratedKeyPath(unit.DistDir()))
	require.NoFileExists(t, unit.IndexIcon())
}

// TestBuild_SecondRunIsNoop leaves every output untouched when nothing changed.
func TestBuild_SecondRunIsNoop(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	unit := writeUnit(t, root, "clock", manifestJSON("Clock", "2.1"))
	b := builtin(newConfig(t, root, config.VariantPackages))

	first := b.Build(context.Background(), []string{"clock"})
	require.NoError(t, first.Err())

	before := snapshot(t, unit.Dir)

	second := b.Build(context.Background(), []string{"clock"})
	require.NoError(t, second.Err())
	require.Equal(t, StatusUpToDate, second.Outcomes[0].Status)
	require.Equal(t, staleness.ReasonUpToDate, second.Outcomes[0].Reason)
	require.Equal(t, first.Outcomes[0].ID, second.Outcomes[0].ID)

	require.Equal(t, before, snapshot(t, unit.Dir))
}

// TestBuild_SourceChangeKeepsIdentifier rebuilds on change with the persisted key.
func TestBuild_SourceChangeKeepsIdentifier(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	unit := writeUnit(t, root, "notes", manifestJSON("Notes", "1.0"))
	b := builtin(newConfig(t, root, config.VariantPackages))

	first := b.Build(context.Background(), []string{"notes"})
	require.NoError(t, first.Err())

	key, err := os.ReadFile(unit.KeyPath())
	require.NoError(t, err)

	later := sourceTime.Add(time.Hour)
	require.NoError(t, os.WriteFile(unit.SourceManifest(), []byte(manifestJSON("Notes", "1.1")), 0o600))
	require.NoError(t, os.Chtimes(unit.SourceManifest(), later, later))

	second := b.Build(context.Background(), []string{"notes"})
	require.NoError(t, second.Err())
	require.Equal(t, StatusBuilt, second.Outcomes[0].Status)
	require.Equal(t, staleness.ReasonSourcesChanged, second.Outcomes[0].Reason)
	require.Equal(t, first.Outcomes[0].ID, second.Outcomes[0].ID)

	keyAfter, err := os.ReadFile(unit.KeyPath())
	require.NoError(t, err)
	require.Equal(t, key, keyAfter)

	recorded, err := record.ForUnit(unit.Dir).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, record.Seconds(later), recorded) //nolint:testifylint // Exact equality is required.
}

// TestBuild_InvalidRecord forces a rebuild and reports the distinct reason.
func TestBuild_InvalidRecord(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	unit := writeUnit(t, root, "maps", manifestJSON("Maps", "1.0"))
	require.NoError(t, os.WriteFile(filepath.Join(unit.Dir, record.DefaultFilename), []byte("n/a"), 0o600))

	summary := builtin(newConfig(t, root, config.VariantPackages)).Build(context.Background(), []string{"maps"})
	require.NoError(t, summary.Err())
	require.Equal(t, StatusBuilt, summary.Outcomes[0].Status)
	require.Equal(t, staleness.ReasonInvalidRecord, summary.Outcomes[0].Reason)
}

// TestBuild_FailureIsolated keeps building other units after one fails.
func TestBuild_FailureIsolated(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeUnit(t, root, "alpha", manifestJSON("Alpha", "1.0"))
	broken := writeUnit(t, root, "broken", `{"version": "1.0"}`)
	writeUnit(t, root, "gamma", manifestJSON("Gamma", "1.0"))

	summary := builtin(newConfig(t, root, config.VariantPackages)).Build(context.Background(), []string{"alpha", "broken", "gamma"})

	require.Equal(t, 2, summary.Count(StatusBuilt))
	require.Equal(t, 1, summary.Count(StatusFailed))
	require.Equal(t, StatusFailed, summary.Outcomes[1].Status)
	require.ErrorIs(t, summary.Err(), extension.ErrMissingField)
	require.Len(t, summary.Errors(), 1)

	require.NoFileExists(t, filepath.Join(broken.Dir, record.DefaultFilename))
	require.NoFileExists(t, broken.KeyPath())
}

// TestBuild_ToolFailure surfaces a failing packaging tool instead of continuing.
func TestBuild_ToolFailure(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	unit := writeUnit(t, root, "alpha", manifestJSON("Alpha", "1.0"))

	fake := &runner.FakeCommandRunner{
		Hook: func(string, []string) error { return errors.New("exit status 1") },
	}

	b := New(newConfig(t, root, config.VariantPackages), icons.BuiltinResizer{}, &crx.ChromePacker{Runner: fake})
	summary := b.Build(context.Background(), []string{"alpha"})

	require.ErrorIs(t, summary.Err(), runner.ErrToolFailed)
	require.Equal(t, StatusFailed, summary.Outcomes[0].Status)
	require.NoFileExists(t, filepath.Join(unit.Dir, record.DefaultFilename))
	require.NoFileExists(t, unit.UpdateManifestPath())
	require.Len(t, fake.Calls, 1)
}

// TestBuild_UpToDateWithoutKey fails the unit when the key was deleted but the record kept.
func TestBuild_UpToDateWithoutKey(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	unit := writeUnit(t, root, "alpha", manifestJSON("Alpha", "1.0"))
	b := builtin(newConfig(t, root, config.VariantPackages))

	require.NoError(t, b.Build(context.Background(), []string{"alpha"}).Err())
	require.NoError(t, os.Remove(unit.KeyPath()))

	summary := b.Build(context.Background(), []string{"alpha"})
	require.ErrorIs(t, summary.Err(), identity.ErrKeyNotFound)
}

// TestBuild_IndexVariant maintains unit icons, manifest versions and the index page.
func TestBuild_IndexVariant(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	zulu := writeUnit(t, root, "zulu", manifestJSON("Zulu", "3.2.1"))
	writeUnit(t, root, "alpha", manifestJSON("Alpha", "1.0"))
	writeUnit(t, root, "broken", `{"name": "Broken"}`)

	cfg := newConfig(t, root, config.VariantIndex)
	summary := builtin(cfg).Build(context.Background(), []string{"alpha", "broken", "zulu"})
	require.Len(t, summary.Errors(), 1)

	require.FileExists(t, zulu.IndexIcon())

	doc, err := updatexml.Read(zulu.UpdateManifestPath())
	require.NoError(t, err)
	require.Equal(t, "3.2.1", doc.App.UpdateCheck.Version)

	page, err := os.ReadFile(filepath.Join(root, cfg.IndexFile))
	require.NoError(t, err)

	s := string(page)
	alpha := strings.Index(s, `alt="alpha"`)
	zuluAt := strings.Index(s, `alt="zulu"`)

	require.Positive(t, alpha)
	require.Greater(t, zuluAt, alpha)
	require.NotContains(t, s, `alt="broken"`)
	require.Contains(t, s, summary.Outcomes[2].ID)

	// Up-to-date units stay listed on the next run.
	again := builtin(cfg).Build(context.Background(), []string{"alpha", "zulu"})
	require.NoError(t, again.Err())

	page, err = os.ReadFile(filepath.Join(root, cfg.IndexFile))
	require.NoError(t, err)
	require.Contains(t, string(page), `alt="zulu"`)
	require.Contains(t, string(page), `alt="alpha"`)
}

// TestBuild_IndexKeepsPublishedUnit lists a unit whose rebuild failed while
// its earlier package is still published.
func TestBuild_IndexKeepsPublishedUnit(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	alpha := writeUnit(t, root, "alpha", manifestJSON("Alpha", "1.0"))
	cfg := newConfig(t, root, config.VariantIndex)

	first := builtin(cfg).Build(context.Background(), []string{"alpha"})
	require.NoError(t, first.Err())

	// A newer, broken manifest forces a rebuild that fails before dist is touched.
	require.NoError(t, os.WriteFile(alpha.SourceManifest(), []byte(`{"name": "Alpha"}`), 0o600))

	later := sourceTime.Add(time.Hour)
	require.NoError(t, os.Chtimes(alpha.SourceManifest(), later, later))

	second := builtin(cfg).Build(context.Background(), []string{"alpha"})
	require.Equal(t, 1, second.Count(StatusFailed))
	require.FileExists(t, alpha.PackagePath(first.Outcomes[0].ID))

	page, err := os.ReadFile(filepath.Join(root, cfg.IndexFile))
	require.NoError(t, err)
	require.Contains(t, string(page), `alt="alpha"`)
	require.Contains(t, string(page), first.Outcomes[0].ID)
}

// TestBuild_Canceled stops before touching units.
func TestBuild_Canceled(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	unit := writeUnit(t, root, "alpha", manifestJSON("Alpha", "1.0"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary := builtin(newConfig(t, root, config.VariantPackages)).Build(ctx, []string{"alpha"})
	require.ErrorIs(t, summary.Err(), context.Canceled)
	require.Empty(t, summary.Outcomes)
	require.NoDirExists(t, unit.DistDir())
}

// TestDiscover lists unit directories and skips reserved names and files.
func TestDiscover(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for _, dir := range []string{"weather", ".git", "docs", "clock"} {
		require.NoError(t, os.Mkdir(filepath.Join(root, dir), 0o755))
	}

	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("x"), 0o600))

	units, err := Discover(root, []string{".git", "docs"})
	require.NoError(t, err)
	require.Equal(t, []string{"clock", "weather"}, units)

	_, err = Discover(filepath.Join(root, "missing"), nil)
	require.Error(t, err)
}

// TestSelect applies the Discover rules to requested names.
func TestSelect(t *testing.T) {
	t.Parallel()

	units, err := Select([]string{"weather", "clock/"}, []string{".git", "docs"})
	require.NoError(t, err)
	require.Equal(t, []string{"weather", "clock"}, units)

	for _, name := range []string{".git", "docs", "../x", "a/b", `a\b`, ".", "..", "", "/"} {
		_, err = Select([]string{name}, []string{".git", "docs"})
		require.ErrorIs(t, err, ErrInvalidUnit, name)
	}
}
