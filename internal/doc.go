// Package internal contains helper utilities that are intentionally private to
// goVerify: secure code and salt generation and the one-way hashing used for
// destinations and codes.
//
// # What this package must NOT do
//
//   - Export types that appear in the public goVerify API.
//   - Be imported by any package outside the goVerify module.
package internal
