/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package log_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mlandesman/sams-reqkit/log"
	"github.com/mlandesman/sams-reqkit/log/logtest"
)

func TestMaskingLogger(t *testing.T) {
	rec := logtest.NewRecorder()
	logger := log.NewMaskingLogger(rec, log.NewMasker(log.DefaultMasks))

	logger.With(log.String("target", "GET /units?access_token=abc")).Warn(
		"request failed, password=qwerty",
		log.Error(errors.New("dial tcp: GET /x?api_key=123: refused")),
		log.Bytes("body", []byte(`{"password":"hunter2"}`)),
		log.Int("attempt", 2),
	)

	entry, ok := rec.FindEntry("request failed, password=***")
	require.True(t, ok)

	target, ok := entry.FindField("target")
	require.True(t, ok)
	require.Equal(t, "GET /units?access_token=***", string(target.Bytes))

	errField, ok := entry.FindField("error")
	require.True(t, ok)
	require.Equal(t, "dial tcp: GET /x?api_key=***: refused", errField.Any.(error).Error())

	body, ok := entry.FindField("body")
	require.True(t, ok)
	require.Equal(t, `{"password": "***"}`, string(body.Bytes))

	attempt, ok := entry.FindField("attempt")
	require.True(t, ok)
	require.EqualValues(t, 2, attempt.Int)
}
