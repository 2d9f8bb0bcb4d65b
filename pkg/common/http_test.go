package common

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient(t *testing.T) {
	// Setup test server
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Verify the browser headers are applied
		assert.Contains(t, r.Header.Get("User-Agent"), "Chrome", "User-Agent should look like a browser")
		assert.Equal(t, "1", r.Header.Get("Upgrade-Insecure-Requests"))
		assert.Equal(t, "1", r.Header.Get("DNT"))

		http.SetCookie(w, &http.Cookie{Name: "rvt", Value: "token-abc"})
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	timeout := 5 * time.Second
	client := HTTPClient(timeout)

	assert.Equal(t, timeout, client.Timeout, "Timeout should be set correctly")
	require.NotNil(t, client.Transport, "Transport should not be nil")
	require.NotNil(t, client.Jar, "cookie jar should be set")

	req, err := http.NewRequest("GET", server.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Verify the cookie was captured by the jar
	u := resp.Request.URL
	var found bool
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == "rvt" && c.Value == "token-abc" {
			found = true
		}
	}
	assert.True(t, found, "jar should carry the rvt cookie")
}

func TestHTTPClientDefaultTimeout(t *testing.T) {
	client := HTTPClient(0)
	assert.Equal(t, RequestTimeout, client.Timeout, "zero timeout should fall back to the default")
}

func TestRetryTransport(t *testing.T) {
	t.Run("RetriesOn503", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := &http.Client{
			Transport: &retryTransport{
				transport: http.DefaultTransport,
				retries:   maxRetries,
				backoff:   time.Millisecond,
			},
		}

		resp, err := client.Get(server.URL)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.EqualValues(t, 3, calls.Load(), "should have retried twice before succeeding")
	})

	t.Run("GivesUpAfterMaxRetries", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		client := &http.Client{
			Transport: &retryTransport{
				transport: http.DefaultTransport,
				retries:   maxRetries,
				backoff:   time.Millisecond,
			},
		}

		resp, err := client.Get(server.URL)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		assert.EqualValues(t, 1+maxRetries, calls.Load(), "should have exhausted all attempts")
	})

	t.Run("RetriesPOSTWithBody", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "u", r.Form.Get("LoginFormData.UserName"), "body should be replayed on retry")
			if calls.Add(1) < 2 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := &http.Client{
			Transport: &retryTransport{
				transport: http.DefaultTransport,
				retries:   maxRetries,
				backoff:   time.Millisecond,
			},
		}

		resp, err := client.Post(server.URL, "application/x-www-form-urlencoded",
			strings.NewReader("LoginFormData.UserName=u"))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.EqualValues(t, 2, calls.Load())
	})

	t.Run("DoesNotRetry404", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		client := &http.Client{
			Transport: &retryTransport{
				transport: http.DefaultTransport,
				retries:   maxRetries,
				backoff:   time.Millisecond,
			},
		}

		resp, err := client.Get(server.URL)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.EqualValues(t, 1, calls.Load(), "non-transient status should not be retried")
	})
}
