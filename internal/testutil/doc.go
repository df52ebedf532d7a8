// Package testutil provides deterministic time and id sources for tests.
package testutil
