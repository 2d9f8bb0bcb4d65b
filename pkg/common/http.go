package common

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/cookiejar"
	"time"

	"golang.org/x/net/publicsuffix"
)

const (
	// ConnectTimeout is how long we wait to establish a TCP connection to the
	// portal. The portal is known to be slow, so reads get a separate, longer
	// budget via the overall client timeout.
	ConnectTimeout = 10 * time.Second

	// RequestTimeout bounds a full request/response cycle including body read.
	RequestTimeout = 30 * time.Second

	maxRetries   = 3
	retryBackoff = time.Second
)

// browserHeaders are sent on every request to look like a regular Chrome
// session. The portal serves an error page to clients it decides are bots.
var browserHeaders = map[string]string{
	"User-Agent":                "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
	"Accept-Language":           "en-US,en;q=0.9",
	"DNT":                       "1",
	"Connection":                "keep-alive",
	"Upgrade-Insecure-Requests": "1",
}

type headerTransport struct {
	transport http.RoundTripper
}

// RoundTrip implements http.RoundTripper, applying the browser header set
// without clobbering headers already present on the request.
func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid modifying the original request's headers
	// which might be shared or reused
	req = req.Clone(req.Context())
	for k, v := range browserHeaders {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	return t.transport.RoundTrip(req)
}

// retryTransport retries transient failures: connection errors and the retry
// status codes, for any verb. Backoff doubles per attempt starting at 1s.
type retryTransport struct {
	transport http.RoundTripper
	retries   int
	backoff   time.Duration
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	var err error

	wait := t.backoff
	for attempt := 0; ; attempt++ {
		// A request with a consumed one-shot body cannot be replayed.
		if attempt > 0 && req.Body != nil && req.GetBody == nil {
			return resp, err
		}
		if attempt > 0 {
			if req.GetBody != nil {
				body, berr := req.GetBody()
				if berr != nil {
					return resp, err
				}
				req.Body = body
			}
			select {
			case <-req.Context().Done():
				if resp != nil {
					resp.Body.Close()
				}
				return nil, req.Context().Err()
			case <-time.After(wait):
			}
			wait *= 2
		}

		resp, err = t.transport.RoundTrip(req)
		if err == nil && !retryableStatus(resp.StatusCode) {
			return resp, nil
		}
		if attempt >= t.retries {
			return resp, err
		}
		if resp != nil {
			resp.Body.Close()
		}
	}
}

// HTTPClient returns a client configured for scraping the portal: browser
// headers, transient-failure retries, a short connect timeout, and a cookie
// jar (the login flow depends on the rvt anti-forgery cookie being carried
// between requests). Pass 0 to use the default request timeout.
func HTTPClient(timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = RequestTimeout
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	base.DialContext = (&net.Dialer{
		Timeout:   ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		// cookiejar.New never returns an error with valid options
		panic(err)
	}

	return &http.Client{
		Transport: &headerTransport{
			transport: &retryTransport{
				transport: base,
				retries:   maxRetries,
				backoff:   retryBackoff,
			},
		},
		Jar:     jar,
		Timeout: timeout,
	}
}

// IsTimeout reports whether err (from http.Client.Do) represents a timeout,
// so callers can distinguish slow-portal conditions from other connectivity
// failures.
func IsTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
