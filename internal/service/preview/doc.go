// Package preview serves a build root over HTTP so update manifests and
// packages can be fetched by a browser pointed at a local codebase URL.
//
// Signing keys and dotfiles are never served.
package preview
