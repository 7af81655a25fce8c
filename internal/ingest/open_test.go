package ingest

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/dsnet/compress/bzip2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

var payload = bytes.Repeat([]byte{0x47, 0x40, 0x00, 0x10}, 2048)

func compressWith(t *testing.T, format string) []byte {
	t.Helper()
	var buf bytes.Buffer
	var w io.WriteCloser
	var err error
	switch format {
	case "gzip":
		w = gzip.NewWriter(&buf)
	case "bzip2":
		w, err = bzip2.NewWriter(&buf, nil)
	case "xz":
		w, err = xz.NewWriter(&buf)
	case "brotli":
		w = brotli.NewWriter(&buf)
	default:
		return payload
	}
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func readAll(t *testing.T, rc io.ReadCloser) []byte {
	t.Helper()
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func fastFetch() FetchConfig {
	cfg := DefaultFetchConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.RetryMaxWait = 5 * time.Millisecond
	return cfg
}

func TestOpen_LocalFiles(t *testing.T) {
	tests := []struct {
		format string
		name   string
	}{
		{"plain", "capture.ts"},
		{"gzip", "capture.ts.gz"},
		{"bzip2", "capture.ts.bz2"},
		{"xz", "capture.ts.xz"},
		{"brotli", "capture.ts.br"},
	}

	dir := t.TempDir()
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			require.NoError(t, os.WriteFile(path, compressWith(t, tt.format), 0o600))

			rc, err := Open(context.Background(), path, fastFetch())
			require.NoError(t, err)
			assert.Equal(t, payload, readAll(t, rc))
		})
	}
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "missing.ts"), fastFetch())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpen_HTTPRetriesAndDecodes(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		assert.Contains(t, r.Header.Get("Accept-Encoding"), "br")
		w.Header().Set("Content-Encoding", "br")
		_, _ = w.Write(compressWith(t, "brotli"))
	}))
	defer srv.Close()

	rc, err := Open(context.Background(), srv.URL+"/live.ts", fastFetch())
	require.NoError(t, err)
	assert.Equal(t, payload, readAll(t, rc))
	assert.EqualValues(t, 3, attempts.Load())
}

func TestOpen_HTTPMagicBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(compressWith(t, "xz"))
	}))
	defer srv.Close()

	rc, err := Open(context.Background(), srv.URL+"/capture.ts.xz", fastFetch())
	require.NoError(t, err)
	assert.Equal(t, payload, readAll(t, rc))
}

func TestOpen_HTTPErrors(t *testing.T) {
	t.Run("not found is not retried", func(t *testing.T) {
		var attempts atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			attempts.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		_, err := Open(context.Background(), srv.URL, fastFetch())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "404")
		assert.EqualValues(t, 1, attempts.Load())
	})

	t.Run("retries exhausted", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		cfg := fastFetch()
		cfg.Retries = 1
		_, err := Open(context.Background(), srv.URL, cfg)
		assert.ErrorIs(t, err, ErrFetchRetries)
	})

	t.Run("cancelled", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Open(ctx, srv.URL, fastFetch())
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestObfuscateURL(t *testing.T) {
	u, err := url.Parse("http://user:pw@example.com/live.ts?token=abc&channel=1")
	require.NoError(t, err)

	got := obfuscateURL(u)
	assert.NotContains(t, got, "abc")
	assert.NotContains(t, got, "pw")
	assert.Contains(t, got, "channel=1")
}
