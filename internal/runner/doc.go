// Package runner executes external tools and reports their outcome.
//
// A non-zero exit status is never treated as success: Run returns an error
// wrapping ErrToolFailed together with the captured output.
package runner
