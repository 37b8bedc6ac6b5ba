package icons

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/crx-builder/internal/runner"
)

func writeSourceIcon(t *testing.T, dir string) string {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, 256, 256))
	for y := range 256 {
		for x := range 256 {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}

	path := filepath.Join(dir, "icon.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	return path
}

// TestBuiltinResizer_Sizes produces every default size with the right bounds.
func TestBuiltinResizer_Sizes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := writeSourceIcon(t, dir)

	for _, size := range DefaultSizes {
		dst := filepath.Join(dir, "out.png")
		require.NoError(t, BuiltinResizer{}.Resize(context.Background(), src, size, dst))

		f, err := os.Open(dst)
		require.NoError(t, err)

		cfg, err := png.DecodeConfig(f)
		require.NoError(t, err)
		require.NoError(t, f.Close())

		require.Equal(t, size, cfg.Width)
		require.Equal(t, size, cfg.Height)
	}
}

// TestBuiltinResizer_Errors covers bad input.
func TestBuiltinResizer_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	err := BuiltinResizer{}.Resize(context.Background(), filepath.Join(dir, "missing.png"), 16, filepath.Join(dir, "o.png"))
	require.ErrorIs(t, err, os.ErrNotExist)

	notImage := filepath.Join(dir, "icon.png")
	require.NoError(t, os.WriteFile(notImage, []byte("text"), 0o600))

	err = BuiltinResizer{}.Resize(context.Background(), notImage, 16, filepath.Join(dir, "o.png"))
	require.Error(t, err)

	err = BuiltinResizer{}.Resize(context.Background(), notImage, 0, filepath.Join(dir, "o.png"))
	require.ErrorIs(t, err, errBadSize)
}

// TestConvertResizer_Arguments passes the ImageMagick geometry and checks the output exists.
func TestConvertResizer_Arguments(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dst := filepath.Join(dir, "icon32.png")

	fake := &runner.FakeCommandRunner{
		Hook: func(_ string, args []string) error {
			return os.WriteFile(args[len(args)-1], []byte("png"), 0o600)
		},
	}

	r := &ConvertResizer{Runner: fake}
	require.NoError(t, r.Resize(context.Background(), "src/icon.png", 32, dst))
	require.Equal(t, [][]string{{"convert", "src/icon.png", "-resize", "32x32", dst}}, fake.Calls)
}

// TestConvertResizer_MissingOutput treats a silent no-op as a failure.
func TestConvertResizer_MissingOutput(t *testing.T) {
	t.Parallel()

	r := &ConvertResizer{Runner: new(runner.FakeCommandRunner), Binary: "magick"}

	err := r.Resize(context.Background(), "src/icon.png", 16, filepath.Join(t.TempDir(), "icon16.png"))
	require.ErrorIs(t, err, runner.ErrToolFailed)
}
