package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNewerVersion(t *testing.T) {
	tests := []struct {
		latest, current string
		want            bool
	}{
		{"1.2.0", "1.1.9", true},
		{"v2.0.0", "1.9.9", true},
		{"1.2.0", "1.2.0", false},
		{"1.1.0", "v1.2.0", false},
		{"1.2.0", "1.2.0-rc.1", true},
		{"garbage", "1.0.0", false},
	}
	for _, tt := range tests {
		t.Run(tt.latest+"_vs_"+tt.current, func(t *testing.T) {
			assert.Equal(t, tt.want, isNewerVersion(tt.latest, tt.current))
		})
	}
}

func TestVersionCheckerCheck(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(`{"tag_name":"v9.1.0","draft":false,"prerelease":false}`))
	}))
	defer srv.Close()

	vc := newVersionChecker(srv.URL)
	require.NoError(t, vc.Check(context.Background()))
	assert.Equal(t, "9.1.0", vc.Info().Latest)

	require.NoError(t, vc.Check(context.Background()), "not modified keeps the known release")
	assert.Equal(t, "9.1.0", vc.Info().Latest)
	assert.Equal(t, int32(2), requests.Load())

	// Development builds never report an update.
	assert.False(t, vc.Info().UpdateAvail)
}

func TestVersionCheckerIgnoresPrerelease(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"tag_name":"v10.0.0-beta.1","prerelease":true}`))
	}))
	defer srv.Close()

	vc := newVersionChecker(srv.URL)
	require.NoError(t, vc.Check(context.Background()))
	assert.Empty(t, vc.Info().Latest)
}

func TestVersionCheckerErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"no releases", http.StatusNotFound, false},
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusBadGateway, true},
		{"bad request", http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := newVersionChecker(srv.URL).Check(context.Background())
			if tt.status == http.StatusNotFound {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.retryable, errors.Is(err, errRetryable))
		})
	}
}

func TestVersionCheckerStopWithoutStart(t *testing.T) {
	vc := newVersionChecker("http://127.0.0.1:0")
	vc.Stop()
	vc.Stop()
}

func TestVersionInfoReportsUpdate(t *testing.T) {
	old := Version
	Version = "v1.0.0"
	t.Cleanup(func() { Version = old })

	info := versionInfo("1.1.0")
	assert.Equal(t, "1.0.0", info.Current)
	assert.True(t, info.UpdateAvail)

	assert.False(t, versionInfo("").UpdateAvail)
}
