// Package testutil provides testing utilities and fixtures for the menuguard
// module: a controllable clock for window and expiry tests, menu item
// fixtures, and small assertion helpers.
package testutil
