/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mlandesman/sams-reqkit/log"
	"github.com/mlandesman/sams-reqkit/log/logtest"
	"github.com/mlandesman/sams-reqkit/testutil"
)

func TestLoggingRoundTripper(t *testing.T) {
	errTransport := errors.New("connection refused")
	tr := testutil.NewTransport().
		HandleStatic("/ok", http.StatusOK, "{}").
		HandleStatic("/bad", http.StatusBadGateway, "{}").
		Handle("/broken", func(r *http.Request, _ int) (*http.Response, error) { return nil, errTransport })

	tests := []struct {
		name      string
		mode      LoggingMode
		path      string
		wantMsg   string
		wantLevel log.Level
		wantNone  bool
	}{
		{name: "all, success", mode: LoggingModeAll, path: "/ok", wantMsg: "client http request done", wantLevel: log.LevelInfo},
		{name: "all, bad status", mode: LoggingModeAll, path: "/bad", wantMsg: "client http request done", wantLevel: log.LevelWarn},
		{name: "failed, success", mode: LoggingModeFailed, path: "/ok", wantNone: true},
		{name: "failed, bad status", mode: LoggingModeFailed, path: "/bad", wantMsg: "client http request done", wantLevel: log.LevelWarn},
		{name: "failed, transport error", mode: LoggingModeFailed, path: "/broken", wantMsg: "client http request failed", wantLevel: log.LevelError},
		{name: "none", mode: LoggingModeNone, path: "/bad", wantNone: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := logtest.NewRecorder()
			rt := NewLoggingRoundTripperWithOpts(tr, LoggingRoundTripperOpts{Mode: tt.mode})

			ctx := NewContextWithLogger(context.Background(), logger)
			ctx = NewContextWithRequestType(ctx, "units")
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://example.com"+tt.path, nil)
			require.NoError(t, err)
			req.Header.Set(RequestIDHeader, "req-1")
			resp, err := rt.RoundTrip(req)
			if resp != nil {
				require.NoError(t, resp.Body.Close())
			}

			if tt.wantNone {
				require.Empty(t, logger.Entries())
				return
			}
			require.Len(t, logger.Entries(), 1)
			entry, found := logger.FindEntry(tt.wantMsg)
			require.True(t, found)
			require.Equal(t, tt.wantLevel, entry.Level)

			field, found := entry.FindField("request_type")
			require.True(t, found)
			require.Equal(t, "units", string(field.Bytes))
			field, found = entry.FindField("request_id")
			require.True(t, found)
			require.Equal(t, "req-1", string(field.Bytes))
			_, found = entry.FindField("duration_ms")
			require.True(t, found)
			if err != nil {
				require.ErrorIs(t, err, errTransport)
				return
			}
			field, found = entry.FindField("status")
			require.True(t, found)
			require.Equal(t, int64(resp.StatusCode), field.Int)
		})
	}
}

func TestLoggingRoundTripper_SlowRequestThreshold(t *testing.T) {
	tr := testutil.NewTransport().HandleStatic("/ok", http.StatusOK, "{}")
	logger := logtest.NewRecorder()
	rt := NewLoggingRoundTripperWithOpts(tr, LoggingRoundTripperOpts{
		LoggerProvider:       func(ctx context.Context) log.FieldLogger { return logger },
		SlowRequestThreshold: time.Hour,
	})
	req, err := http.NewRequest(http.MethodGet, "http://example.com/ok", nil)
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Empty(t, logger.Entries())
}
