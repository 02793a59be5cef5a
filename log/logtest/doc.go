/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package logtest provides log.FieldLogger implementations for tests:
// a Recorder that keeps every entry for inspection and a JSON logger writing to an arbitrary io.Writer.
package logtest
