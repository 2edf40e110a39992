package httpclient

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/segmentarr/internal/config"
	"github.com/jmylchreest/segmentarr/internal/observability"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.RetryMaxDelay = 5 * time.Millisecond
	cfg.Logger = observability.Discard()
	return cfg
}

func readAll(t *testing.T, resp *Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestClient_Open(t *testing.T) {
	t.Run("filename from content disposition", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
			w.Header().Set("Content-Disposition", `attachment; filename="Harbour Lecture.mp4"`)
			_, _ = w.Write([]byte("video bytes"))
		}))
		defer server.Close()

		resp, err := New(fastConfig()).Open(context.Background(), server.URL+"/download?id=1")
		require.NoError(t, err)
		assert.Equal(t, "Harbour Lecture.mp4", resp.Filename)
		assert.Equal(t, "video bytes", readAll(t, resp))
	})

	t.Run("filename from path", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("x"))
		}))
		defer server.Close()

		resp, err := New(fastConfig()).Open(context.Background(), server.URL+"/media/clip.mkv?sig=abc")
		require.NoError(t, err)
		assert.Equal(t, "clip.mkv", resp.Filename)
		readAll(t, resp)
	})

	t.Run("client error is not retried", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		_, err := New(fastConfig()).Open(context.Background(), server.URL)
		require.ErrorIs(t, err, ErrUnexpectedStatus)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestClient_Retries(t *testing.T) {
	t.Run("recovers after server errors", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte("ok"))
		}))
		defer server.Close()

		resp, err := New(fastConfig()).Open(context.Background(), server.URL)
		require.NoError(t, err)
		assert.Equal(t, "ok", readAll(t, resp))
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("gives up", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		cfg := fastConfig()
		cfg.RetryAttempts = 2
		_, err := New(cfg).Open(context.Background(), server.URL)
		require.ErrorIs(t, err, ErrMaxRetries)
		assert.ErrorIs(t, err, ErrUnexpectedStatus)
	})

	t.Run("context cancellation stops retries", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		cfg := fastConfig()
		cfg.RetryDelay = time.Hour
		cfg.RetryMaxDelay = time.Hour
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := New(cfg).Open(ctx, server.URL)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestClient_Decompression(t *testing.T) {
	payload := bytes.Repeat([]byte("segment "), 512)

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, _ = gw.Write(payload)
	require.NoError(t, gw.Close())

	var br bytes.Buffer
	bw := brotli.NewWriter(&br)
	_, _ = bw.Write(payload)
	require.NoError(t, bw.Close())

	for encoding, body := range map[string][]byte{"gzip": gz.Bytes(), "br": br.Bytes()} {
		t.Run(encoding, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Contains(t, r.Header.Get("Accept-Encoding"), encoding)
				w.Header().Set("Content-Encoding", encoding)
				_, _ = w.Write(body)
			}))
			defer server.Close()

			resp, err := New(fastConfig()).Open(context.Background(), server.URL)
			require.NoError(t, err)
			assert.Equal(t, string(payload), readAll(t, resp))
		})
	}
}

func TestClient_CircuitBreakerPerHost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := fastConfig()
	cfg.RetryAttempts = 0
	cfg.CircuitThreshold = 2
	cfg.CircuitCooldown = time.Hour
	client := New(cfg)

	for range 2 {
		_, err := client.Open(context.Background(), server.URL)
		require.Error(t, err)
	}

	_, err := client.Open(context.Background(), server.URL)
	require.ErrorIs(t, err, ErrCircuitOpen)

	u, _ := url.Parse(server.URL)
	assert.Equal(t, CircuitOpen, client.Breaker(u.Host).State())
	assert.Equal(t, CircuitClosed, client.Breaker("other.example").State())
}

func TestCircuitBreaker(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }

	assert.True(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.False(t, cb.Allow())

	now = now.Add(time.Minute)
	assert.True(t, cb.Allow(), "one probe after the cool-down")
	assert.Equal(t, CircuitHalfOpen, cb.State())
	assert.False(t, cb.Allow(), "only one probe at a time")

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	now = now.Add(time.Minute)
	assert.True(t, cb.Allow())
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())

	cb.RecordFailure()
	cb.Reset()
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}

func TestObfuscateURL(t *testing.T) {
	u, err := url.Parse("https://user:pw@cdn.example.com/v.mp4?X-Amz-Signature=abc&token=t&part=2")
	require.NoError(t, err)

	got := obfuscateURL(u)
	assert.NotContains(t, got, "abc")
	assert.NotContains(t, got, "pw@")
	assert.Contains(t, got, "part=2")
	assert.Empty(t, obfuscateURL(nil))
}

func TestRetryAfter(t *testing.T) {
	resp := &http.Response{Header: http.Header{"Retry-After": []string{"3"}}}
	assert.Equal(t, 3*time.Second, retryAfter(resp))
	resp.Header.Set("Retry-After", "Wed, 21 Oct 2015 07:28:00 GMT")
	assert.Zero(t, retryAfter(resp))
}

func TestFromDownloadConfig(t *testing.T) {
	cfg := FromDownloadConfig(config.DownloadConfig{
		Timeout:       time.Minute,
		RetryAttempts: 5,
		UserAgent:     "segmentarr-test",
	}, observability.Discard())

	assert.Equal(t, time.Minute, cfg.HeaderTimeout)
	assert.Equal(t, 5, cfg.RetryAttempts)
	assert.Equal(t, DefaultRetryDelay, cfg.RetryDelay)
	assert.Equal(t, "segmentarr-test", cfg.UserAgent)
}
