//go:build !debug

// Package check provides invariant assertions that compile away unless the
// debug build tag is set.
package check

// Assert does nothing in release builds.
func Assert(_ bool, _ string) {}

// Assertf does nothing in release builds.
func Assertf(_ bool, _ string, _ ...any) {}
