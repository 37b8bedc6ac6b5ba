// Package staleness decides whether an extension unit must be rebuilt by
// comparing the newest modification time in its source directory with the
// persisted record of the last successful build.
package staleness
