// Package builder packages every extension unit under a root.
//
// For each unit it asks the staleness tracker whether the sources changed
// since the last successful build. Stale units get a fresh dist directory
// with the manifest and resized icons, a signed package named after the
// extension identifier, an update manifest and a new staleness record.
// A failing unit is reported and skipped; the run carries on with the next
// one.
package builder
