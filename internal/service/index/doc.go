// Package index regenerates the HTML page listing packaged extensions.
//
// The page is parsed, the children of the container element are dropped,
// and one entry per extension is appended in name order. Everything outside
// the container is preserved.
package index
