// Package testutil holds small helpers shared by tests.
package testutil

// Ptr returns a pointer to v, for the optional *bool and *int manifest
// fields.
func Ptr[T any](v T) *T { return &v }
