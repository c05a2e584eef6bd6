// Package validation contains the input format rules applied before any
// persistence or token operation. Every function is pure: no I/O, no side
// effects, and no panics — callers get booleans or a Result with the full
// ordered list of failures.
package validation
