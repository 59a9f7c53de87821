package output

import (
	"net/http"

	"github.com/3leaps/gobmc/pkg/redfish"
	"github.com/3leaps/gobmc/pkg/transport"
)

// statusCode maps HTTP statuses that have a dedicated code. A 404 carrying a
// vendor message stays a provider error.
func statusCode(err error) (string, bool) {
	he, ok := transport.AsHTTPError(err)
	if !ok {
		return "", false
	}
	switch he.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrCodeAccessDenied, true
	case http.StatusTooManyRequests:
		return ErrCodeThrottled, true
	case http.StatusNotFound:
		if _, parsed := redfish.ParseErrorBody(he.StatusCode, he.Body); !parsed {
			return ErrCodeNotFound, true
		}
	}
	return "", false
}
