/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package logtest

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mlandesman/sams-reqkit/log"
)

func TestRecorder(t *testing.T) {
	rec := NewRecorder()
	logger := rec.With(log.String("component", "scheduler"))
	logger.Info("operation admitted", log.Int("active", 3))
	logger.WithLevel(log.LevelWarn).Info("dropped")
	logger.Warnf("queue length %d", 12)

	entries := rec.Entries()
	require.Len(t, entries, 2)

	entry, ok := rec.FindEntry("operation admitted")
	require.True(t, ok)
	require.Equal(t, log.LevelInfo, entry.Level)
	field, ok := entry.FindField("active")
	require.True(t, ok)
	require.EqualValues(t, 3, field.Int)
	_, ok = entry.FindField("component")
	require.True(t, ok)

	require.Len(t, rec.FindAllEntries(func(e RecordedEntry) bool { return e.Level == log.LevelWarn }), 1)

	rec.Reset()
	require.Empty(t, rec.Entries())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf).Errorf("failed %s", "op-1")

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Equal(t, "error", got["level"])
	require.Equal(t, "failed op-1", got["msg"])
}
