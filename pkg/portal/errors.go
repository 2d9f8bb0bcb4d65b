package portal

import (
	"errors"
	"fmt"
	"net"

	"github.com/eirsights/eirsights/pkg/common"
)

// Authentication-flow failures. Each is terminal for the attempt: the whole
// session must be rebuilt from credentials, there is no in-place repair.
var (
	// ErrTokenExtraction means the portal's markup has drifted: the hidden
	// Source field or the rvt anti-forgery cookie is gone from the login page.
	ErrTokenExtraction = errors.New("could not extract login tokens from portal")

	// ErrInvalidCredentials means the portal served the login page back after
	// the login POST. Wrapped with the portal's own validation message when
	// one could be scraped.
	ErrInvalidCredentials = errors.New("portal rejected credentials")

	// ErrAccountNotFound means no dashboard entry matched both the configured
	// account number and the electricity marker.
	ErrAccountNotFound = errors.New("target account not found on dashboard")

	// ErrMeterIdentity means the insights page was reached but the
	// partner/contract/premise identifiers were missing or incomplete.
	ErrMeterIdentity = errors.New("meter identity missing from insights page")
)

// Transport-level failures, distinguished for diagnostics. These surface
// only after the client's own retry layer has given up.
var (
	ErrTimeout      = errors.New("portal request timed out")
	ErrConnectivity = errors.New("could not connect to portal")
	ErrRequest      = errors.New("portal request failed")
)

// classifyTransport maps an http.Client.Do error onto the transport error
// taxonomy, keeping the original error in the chain.
func classifyTransport(err error) error {
	if err == nil {
		return nil
	}
	if common.IsTimeout(err) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	return fmt.Errorf("%w: %v", ErrRequest, err)
}

// IsAuthError reports whether err is one of the authentication-flow failures
// that invalidate the cached session.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrTokenExtraction) ||
		errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrMeterIdentity)
}
