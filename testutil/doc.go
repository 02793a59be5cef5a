/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package testutil contains helpers shared by the tests of the kit:
// a scripted fake HTTP transport, error-chain assertions, and Prometheus metric assertions.
package testutil

type tHelper interface {
	Helper()
}
