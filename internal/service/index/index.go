package index

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/oshokin/crx-builder/internal/domain/extension"
)

const (
	// DefaultFilename is the index page inside the working root.
	DefaultFilename = "index.html"
	// DefaultContainerID is the id of the element receiving the entries.
	DefaultContainerID = "apps"

	filePermissions = 0o644
)

// ErrContainerNotFound is returned when the page has no element with the container id.
var ErrContainerNotFound = errors.New("index container not found")

// Entry is one packaged extension shown on the page.
type Entry struct {
	// Unit is the extension directory name.
	Unit string
	// ID is the extension identifier.
	ID string
}

// Regenerate rewrites the container of the page at path with entries.
// A missing page is created from a minimal skeleton.
func Regenerate(path, containerID string, entries []Entry) error {
	src, err := os.ReadFile(filepath.Clean(path))

	switch {
	case errors.Is(err, os.ErrNotExist):
		src = []byte(Skeleton(containerID))
	case err != nil:
		return fmt.Errorf("read index: %w", err)
	}

	out, err := Render(src, containerID, entries)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	if err = os.WriteFile(filepath.Clean(path), out, filePermissions); err != nil {
		return fmt.Errorf("write index: %w", err)
	}

	return nil
}

// Render returns src with the container's children replaced by entries
// sorted by unit name.
func Render(src []byte, containerID string, entries []Entry) ([]byte, error) {
	doc, err := html.Parse(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}

	container := findByID(doc, containerID)
	if container == nil {
		return nil, fmt.Errorf("%w: #%s", ErrContainerNotFound, containerID)
	}

	for child := container.FirstChild; child != nil; child = container.FirstChild {
		container.RemoveChild(child)
	}

	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b Entry) int {
		return cmp.Compare(a.Unit, b.Unit)
	})

	for _, e := range sorted {
		container.AppendChild(text("\n"))
		container.AppendChild(entryNode(e))
	}

	if len(sorted) > 0 {
		container.AppendChild(text("\n"))
	}

	var buf bytes.Buffer
	if err = html.Render(&buf, doc); err != nil {
		return nil, fmt.Errorf("render index: %w", err)
	}

	return buf.Bytes(), nil
}

// Skeleton returns a minimal page with an empty container.
func Skeleton(containerID string) string {
	return `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Extensions</title>
</head>
<body>
<div id="` + html.EscapeString(containerID) + `"></div>
</body>
</html>
`
}

func findByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode {
		for _, a := range n.Attr {
			if a.Namespace == "" && a.Key == "id" && a.Val == id {
				return n
			}
		}
	}

	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findByID(child, id); found != nil {
			return found
		}
	}

	return nil
}

// entryNode renders:
//
//	<div class="app"><img src="UNIT/icon.png" alt="UNIT"/><code>ID</code>
//	<a href="UNIT/ID.crx">UNIT</a><a href="UNIT/update.xml">update.xml</a></div>
func entryNode(e Entry) *html.Node {
	base := url.PathEscape(e.Unit) + "/"

	div := element(atom.Div, "class", "app")
	div.AppendChild(element(atom.Img, "src", base+extension.IconFilename, "alt", e.Unit))

	code := element(atom.Code)
	code.AppendChild(text(e.ID))
	div.AppendChild(code)

	pkg := element(atom.A, "class", "package", "href", base+e.ID+extension.PackageExtension)
	pkg.AppendChild(text(e.Unit))
	div.AppendChild(pkg)

	update := element(atom.A, "class", "update", "href", base+extension.UpdateFilename)
	update.AppendChild(text(extension.UpdateFilename))
	div.AppendChild(update)

	return div
}

func element(a atom.Atom, attrs ...string) *html.Node {
	n := &html.Node{
		Type:     html.ElementNode,
		DataAtom: a,
		Data:     a.String(),
	}

	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: attrs[i], Val: attrs[i+1]})
	}

	return n
}

func text(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}
