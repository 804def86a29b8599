// Package wsurl builds the endpoint address a socket driver dials.
package wsurl

import (
	"errors"
	"fmt"
	"net/url"
)

// ErrInvalidURL is returned for endpoints that cannot carry a websocket.
var ErrInvalidURL = errors.New("invalid websocket URL")

// UserIDParam is the query parameter identifying the connecting user.
const UserIDParam = "userId"

// Build returns raw with a websocket scheme and the user identifier attached.
// http and https are switched to ws and wss.
func Build(raw, userID string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	query := u.Query()
	query.Set(UserIDParam, userID)
	u.RawQuery = query.Encode()

	return u.String(), nil
}
