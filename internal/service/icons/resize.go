package icons

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/image/draw"

	// Register decoders for source icons that are not PNG.
	_ "image/gif"
	_ "image/jpeg"

	"github.com/oshokin/crx-builder/internal/runner"
)

// DefaultSizes are the pixel sizes generated for every extension.
//
//nolint:gochecknoglobals // Read-only defaults.
var DefaultSizes = []int{16, 24, 32, 48, 128}

// DefaultConvertBinary is the ImageMagick executable used by ConvertResizer.
const DefaultConvertBinary = "convert"

var errBadSize = errors.New("icon size must be positive")

// Resizer writes src scaled to size x size pixels into dst.
type Resizer interface {
	Resize(ctx context.Context, src string, size int, dst string) error
}

// BuiltinResizer scales with Catmull-Rom resampling and writes PNG.
type BuiltinResizer struct{}

var _ Resizer = BuiltinResizer{}

// Resize decodes src, scales it and encodes the result as PNG at dst.
func (BuiltinResizer) Resize(ctx context.Context, src string, size int, dst string) error {
	if size <= 0 {
		return fmt.Errorf("%w: %d", errBadSize, size)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	img, err := decode(src)
	if err != nil {
		return err
	}

	scaled := image.NewNRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(scaled, scaled.Rect, img, img.Bounds(), draw.Src, nil)

	out, err := os.Create(filepath.Clean(dst))
	if err != nil {
		return fmt.Errorf("create icon: %w", err)
	}

	if err = png.Encode(out, scaled); err != nil {
		_ = out.Close()
		return fmt.Errorf("encode icon %s: %w", dst, err)
	}

	if err = out.Close(); err != nil {
		return fmt.Errorf("close icon: %w", err)
	}

	return nil
}

// ConvertResizer delegates to ImageMagick's convert.
type ConvertResizer struct {
	// Runner executes the binary.
	Runner runner.CommandRunner
	// Binary is the executable name or path.
	Binary string
}

var _ Resizer = (*ConvertResizer)(nil)

// Resize runs `convert src -resize NxN dst` and checks dst was produced.
func (c *ConvertResizer) Resize(ctx context.Context, src string, size int, dst string) error {
	if size <= 0 {
		return fmt.Errorf("%w: %d", errBadSize, size)
	}

	binary := c.Binary
	if binary == "" {
		binary = DefaultConvertBinary
	}

	geometry := strconv.Itoa(size) + "x" + strconv.Itoa(size)

	if _, err := c.Runner.Run(ctx, binary, src, "-resize", geometry, dst); err != nil {
		return fmt.Errorf("resize %s to %s: %w", src, geometry, err)
	}

	if _, err := os.Stat(dst); err != nil {
		return fmt.Errorf("%w: %s did not produce %s", runner.ErrToolFailed, binary, dst)
	}

	return nil
}

func decode(path string) (image.Image, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open icon: %w", err)
	}

	defer func() {
		_ = f.Close()
	}()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode icon %s: %w", path, err)
	}

	return img, nil
}
