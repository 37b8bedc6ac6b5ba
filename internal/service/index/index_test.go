package index

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const page = `<!DOCTYPE html>
<html>
<head><title>Icons</title></head>
<body>
<h1>Chrome icons</h1>
<section id="apps">
<div class="app"><img src="stale/icon.png" alt="stale"/><code>old</code></div>
<p>placeholder</p>
</section>
<footer>kept</footer>
</body>
</html>
`

// listedUnits returns the alt text of each entry image inside the container, in page order.
func listedUnits(t *testing.T, src []byte, containerID string) []string {
	t.Helper()

	doc, err := html.Parse(bytes.NewReader(src))
	require.NoError(t, err)

	container := findByID(doc, containerID)
	require.NotNil(t, container)

	var units []string

	for entry := container.FirstChild; entry != nil; entry = entry.NextSibling {
		if entry.DataAtom != atom.Div {
			continue
		}

		for child := entry.FirstChild; child != nil; child = child.NextSibling {
			if child.DataAtom != atom.Img {
				continue
			}

			for _, a := range child.Attr {
				if a.Key == "alt" {
					units = append(units, a.Val)
				}
			}
		}
	}

	return units
}

// TestRender_ReplacesContainer clears old children and lists entries sorted by unit.
func TestRender_ReplacesContainer(t *testing.T) {
	t.Parallel()

	entries := []Entry{
		{Unit: "weather", ID: "pppppppppppppppppppppppppppppppp"},
		{Unit: "calendar", ID: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"},
		{Unit: "mail", ID: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"},
	}

	out, err := Render([]byte(page), DefaultContainerID, entries)
	require.NoError(t, err)

	s := string(out)
	require.NotContains(t, s, "stale")
	require.NotContains(t, s, "placeholder")
	require.Contains(t, s, "<footer>kept</footer>")
	require.Contains(t, s, "<h1>Chrome icons</h1>")
	require.Contains(t, s, `href="calendar/aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa.crx"`)
	require.Contains(t, s, `href="mail/update.xml"`)
	require.Contains(t, s, `src="weather/icon.png"`)
	require.Contains(t, s, "<code>pppppppppppppppppppppppppppppppp</code>")

	require.Equal(t, []string{"calendar", "mail", "weather"}, listedUnits(t, out, DefaultContainerID))
}

// TestRender_Stable regenerating a rendered page with the same entries yields the same bytes.
func TestRender_Stable(t *testing.T) {
	t.Parallel()

	entries := []Entry{{Unit: "clock", ID: "cccccccccccccccccccccccccccccccc"}}

	first, err := Render([]byte(page), DefaultContainerID, entries)
	require.NoError(t, err)

	second, err := Render(first, DefaultContainerID, entries)
	require.NoError(t, err)
	require.Equal(t, string(first), string(second))
}

// TestRender_Empty leaves an empty container.
func TestRender_Empty(t *testing.T) {
	t.Parallel()

	out, err := Render([]byte(page), DefaultContainerID, nil)
	require.NoError(t, err)
	require.Contains(t, string(out), `<section id="apps"></section>`)
}

// TestRender_MissingContainer reports pages without the container.
func TestRender_MissingContainer(t *testing.T) {
	t.Parallel()

	_, err := Render([]byte(page), "extensions", nil)
	require.ErrorIs(t, err, ErrContainerNotFound)
}

// TestRegenerate_CreatesSkeleton writes a page when none exists.
func TestRegenerate_CreatesSkeleton(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), DefaultFilename)
	require.NoError(t, Regenerate(path, "list", []Entry{{Unit: "notes", ID: "dddddddddddddddddddddddddddddddd"}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), "<!DOCTYPE html>"))
	require.Equal(t, []string{"notes"}, listedUnits(t, data, "list"))
}
