// Package crx packs an unpacked extension directory into a signed CRX3
// package.
//
// Two Packer implementations share one contract: BuiltinPacker writes the
// package in-process, ChromePacker drives a browser's --pack-extension mode.
// Both leave the package next to the directory as <dir>.crx and, when no
// key was supplied, the newly generated key as <dir>.pem.
package crx
