package crx

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/oshokin/crx-builder/internal/identity"
	"github.com/oshokin/crx-builder/internal/logger"
	"github.com/oshokin/crx-builder/internal/runner"
)

const (
	// PackageSuffix is appended to the packed directory path for the package.
	PackageSuffix = ".crx"
	// KeySuffix is appended to the packed directory path for a generated key.
	KeySuffix = ".pem"

	// DefaultChromeBinary is the browser executable used by ChromePacker.
	DefaultChromeBinary = "google-chrome-stable"
	// DefaultChromeProfile isolates packing from the user's browser profile.
	DefaultChromeProfile = "/tmp/chrome_profile"

	keyBits            = 2048
	keyFilePermissions = 0o600
	pkgFilePermissions = 0o644
)

var errNotDirectory = errors.New("not a directory")

// Request describes one packing job.
type Request struct {
	// Dir is the unpacked extension directory.
	Dir string
	// KeyPath is an existing PEM key to sign with. When empty a key is
	// generated and left at Result.GeneratedKey.
	KeyPath string
}

// Result lists the files produced by a Packer.
type Result struct {
	// Package is the path of the signed package.
	Package string
	// GeneratedKey is the path of a newly generated key, empty when
	// Request.KeyPath was used.
	GeneratedKey string
}

// Packer turns an unpacked directory into a signed package.
type Packer interface {
	Pack(ctx context.Context, req Request) (*Result, error)
}

// PackagePath returns where a Packer leaves the package for dir.
func PackagePath(dir string) string {
	return filepath.Clean(dir) + PackageSuffix
}

// GeneratedKeyPath returns where a Packer leaves a generated key for dir.
func GeneratedKeyPath(dir string) string {
	return filepath.Clean(dir) + KeySuffix
}

// BuiltinPacker writes CRX3 packages without external tools.
type BuiltinPacker struct{}

var _ Packer = BuiltinPacker{}

// Pack zips req.Dir, signs it and writes the package.
func (BuiltinPacker) Pack(ctx context.Context, req Request) (*Result, error) {
	if err := checkDir(req.Dir); err != nil {
		return nil, err
	}

	result := &Result{Package: PackagePath(req.Dir)}

	keyPath := req.KeyPath
	if keyPath == "" {
		keyPath = GeneratedKeyPath(req.Dir)
		if err := generateKey(keyPath); err != nil {
			return nil, err
		}

		result.GeneratedKey = keyPath

		logger.DebugKV(ctx, "Generated signing key", "path", keyPath)
	}

	keyData, err := os.ReadFile(filepath.Clean(keyPath))
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}

	key, err := identity.ParsePrivateKeyPEM(keyData)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", keyPath, err)
	}

	archive, err := zipDir(req.Dir)
	if err != nil {
		return nil, err
	}

	data, err := Encode(key, archive)
	if err != nil {
		return nil, err
	}

	if err = os.WriteFile(result.Package, data, pkgFilePermissions); err != nil {
		return nil, fmt.Errorf("write package: %w", err)
	}

	return result, nil
}

// ChromePacker packs through a Chromium-based browser.
type ChromePacker struct {
	// Runner executes the browser.
	Runner runner.CommandRunner
	// Binary is the browser executable.
	Binary string
	// Profile is passed as --user-data-dir.
	Profile string
}

var _ Packer = (*ChromePacker)(nil)

// Pack runs the browser in --pack-extension mode and checks its outputs.
func (c *ChromePacker) Pack(ctx context.Context, req Request) (*Result, error) {
	if err := checkDir(req.Dir); err != nil {
		return nil, err
	}

	result := &Result{Package: PackagePath(req.Dir)}

	// The browser refuses to overwrite a key and may leave a stale package behind.
	for _, stale := range []string{result.Package, GeneratedKeyPath(req.Dir)} {
		if err := os.Remove(stale); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale %s: %w", stale, err)
		}
	}

	args := []string{
		"--user-data-dir=" + c.profile(),
		"--pack-extension=" + req.Dir,
	}
	if req.KeyPath != "" {
		args = append(args, "--pack-extension-key="+req.KeyPath)
	}

	args = append(args, "--no-message-box")

	if _, err := c.Runner.Run(ctx, c.binary(), args...); err != nil {
		return nil, fmt.Errorf("pack %s: %w", req.Dir, err)
	}

	expected := []string{result.Package}

	if req.KeyPath == "" {
		result.GeneratedKey = GeneratedKeyPath(req.Dir)
		expected = append(expected, result.GeneratedKey)
	}

	for _, path := range expected {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: %s did not produce %s", runner.ErrToolFailed, c.binary(), path)
		}
	}

	return result, nil
}

func (c *ChromePacker) binary() string {
	if c.Binary == "" {
		return DefaultChromeBinary
	}

	return c.Binary
}

func (c *ChromePacker) profile() string {
	if c.Profile == "" {
		return DefaultChromeProfile
	}

	return c.Profile
}

func checkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("stat extension directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("%s: %w", dir, errNotDirectory)
	}

	return nil
}

func generateKey(path string) error {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return fmt.Errorf("generate signing key: %w", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshal signing key: %w", err)
	}

	data := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	if err = os.WriteFile(path, data, keyFilePermissions); err != nil {
		return fmt.Errorf("write signing key: %w", err)
	}

	return nil
}

// zipDir archives the regular files under dir with slash-separated
// relative names, in lexical order.
func zipDir(dir string) ([]byte, error) {
	var buf bytes.Buffer

	zw := zip.NewWriter(&buf)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}

		header.Name = filepath.ToSlash(rel)
		header.Method = zip.Deflate

		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}

		f, err := os.Open(filepath.Clean(path))
		if err != nil {
			return err
		}

		defer func() {
			_ = f.Close()
		}()

		_, err = io.Copy(w, f)

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("archive %s: %w", dir, err)
	}

	if err = zw.Close(); err != nil {
		return nil, fmt.Errorf("finish archive: %w", err)
	}

	return buf.Bytes(), nil
}
