// Package record persists the staleness record of an extension unit.
//
// The record is a plain-text file holding one floating-point number of
// seconds since the Unix epoch: the newest source modification time seen
// at the start of the last successful build.
package record
