package extension

import (
	"path/filepath"
	"strconv"
)

// Well-known names inside a unit directory.
const (
	SourceDirName    = "src"
	DistDirName      = "dist"
	KeyFilename      = "key.pem"
	ManifestFilename = "manifest.json"
	IconFilename     = "icon.png"
	UpdateFilename   = "update.xml"
	PackageExtension = ".crx"
)

// Unit is one extension project directory under the working root.
type Unit struct {
	// Name is the directory name; it also appears in codebase URLs.
	Name string
	// Dir is the unit directory path.
	Dir string
}

// NewUnit returns the unit called name under root.
func NewUnit(root, name string) Unit {
	return Unit{
		Name: name,
		Dir:  filepath.Join(root, name),
	}
}

// SourceDir returns the directory holding the unit's sources.
func (u Unit) SourceDir() string {
	return filepath.Join(u.Dir, SourceDirName)
}

// DistDir returns the directory receiving the packaged payload.
func (u Unit) DistDir() string {
	return filepath.Join(u.Dir, DistDirName)
}

// KeyPath returns the location of the persisted signing key.
func (u Unit) KeyPath() string {
	return filepath.Join(u.Dir, KeyFilename)
}

// SourceManifest returns the path of the manifest in the sources.
func (u Unit) SourceManifest() string {
	return filepath.Join(u.SourceDir(), ManifestFilename)
}

// SourceIcon returns the path of the icon that gets resized.
func (u Unit) SourceIcon() string {
	return filepath.Join(u.SourceDir(), IconFilename)
}

// SizedIcon returns the dist path of the icon resized to size pixels.
func (u Unit) SizedIcon(size int) string {
	return filepath.Join(u.DistDir(), SizedIconName(size))
}

// IndexIcon returns the unit-level icon shown by the index page.
func (u Unit) IndexIcon() string {
	return filepath.Join(u.Dir, IconFilename)
}

// PackagePath returns where the package named after id is stored.
func (u Unit) PackagePath(id string) string {
	return filepath.Join(u.Dir, id+PackageExtension)
}

// UpdateManifestPath returns the location of the update manifest.
func (u Unit) UpdateManifestPath() string {
	return filepath.Join(u.Dir, UpdateFilename)
}

// SizedIconName returns the file name of an icon resized to size pixels.
func SizedIconName(size int) string {
	return "icon" + strconv.Itoa(size) + ".png"
}
