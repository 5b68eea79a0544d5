package channel

import (
	"fmt"
	"net/url"
	"strings"
)

// SyncURL derives the WebSocket endpoint from an HTTP(S) base URL: wss for
// https, ws otherwise, same host, the fixed sync path and an optional token
// query parameter. The base URL's own path is not carried over.
func SyncURL(base, path, token string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", fmt.Errorf("api base url is empty")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse api base url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("api base url %q has no host", base)
	}

	scheme := "ws"
	if strings.EqualFold(u.Scheme, "https") {
		scheme = "wss"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	out := url.URL{Scheme: scheme, Host: u.Host, Path: path}
	if token != "" {
		q := url.Values{}
		q.Set("token", token)
		out.RawQuery = q.Encode()
	}
	return out.String(), nil
}
