// Package types defines the shared data model of the code-execution
// subsystem: the error taxonomy, tool descriptors, execution requests
// and results, and security-violation records.
//
// The package is intentionally dependency-free so that every other
// package can import it without cycles.
package types
