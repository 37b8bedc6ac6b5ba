// Package updatexml renders the update manifest browsers poll to find the
// latest package of an extension.
package updatexml

import (
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const (
	// Namespace is the gupdate response namespace.
	Namespace = "http://www.google.com/update2/response"
	// Protocol is the gupdate protocol version.
	Protocol = "2.0"

	filePermissions = 0o644
)

var errMissingValue = errors.New("update manifest value is missing")

// Document is the gupdate response for a single application.
type Document struct {
	XMLName  xml.Name `xml:"gupdate"`
	XMLNS    string   `xml:"xmlns,attr"`
	Protocol string   `xml:"protocol,attr"`
	App      App      `xml:"app"`
}

// App is one application entry.
type App struct {
	ID          string      `xml:"appid,attr"`
	UpdateCheck UpdateCheck `xml:"updatecheck"`
}

// UpdateCheck points at the package and states its version.
type UpdateCheck struct {
	Codebase string `xml:"codebase,attr"`
	Version  string `xml:"version,attr"`
}

// CodebaseURL joins base, unit name and the package file name.
func CodebaseURL(base, unit, id string) string {
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(unit) + "/" + id + ".crx"
}

// New builds the document for the extension id in unit.
func New(base, unit, id, version string) (*Document, error) {
	switch {
	case id == "":
		return nil, fmt.Errorf("%w: app id", errMissingValue)
	case base == "":
		return nil, fmt.Errorf("%w: codebase url", errMissingValue)
	case version == "":
		return nil, fmt.Errorf("%w: version", errMissingValue)
	}

	return &Document{
		XMLNS:    Namespace,
		Protocol: Protocol,
		App: App{
			ID: id,
			UpdateCheck: UpdateCheck{
				Codebase: CodebaseURL(base, unit, id),
				Version:  version,
			},
		},
	}, nil
}

// Marshal renders the document with an XML declaration and trailing newline.
func (d *Document) Marshal() ([]byte, error) {
	body, err := xml.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal update manifest: %w", err)
	}

	out := make([]byte, 0, len(xml.Header)+len(body)+1)
	out = append(out, xml.Header...)
	out = append(out, body...)
	out = append(out, '\n')

	return out, nil
}

// Write renders the document to path.
func (d *Document) Write(path string) error {
	data, err := d.Marshal()
	if err != nil {
		return err
	}

	if err = os.WriteFile(filepath.Clean(path), data, filePermissions); err != nil {
		return fmt.Errorf("write update manifest: %w", err)
	}

	return nil
}

// Read parses the update manifest at path.
func Read(path string) (*Document, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read update manifest: %w", err)
	}

	var d Document
	if err = xml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse update manifest: %w", err)
	}

	return &d, nil
}
