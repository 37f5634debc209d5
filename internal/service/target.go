package service

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"gloo-proxy/internal/model"
)

const defaultHTTPPort = 80

// TunnelTarget parses a CONNECT request target of the form host:port.
func TunnelTarget(target string) (model.Target, error) {
	if strings.Count(target, ":") != 1 {
		return model.Target{}, fmt.Errorf("%w: CONNECT target %q is not host:port", ErrProtocol, target)
	}
	host, portStr, _ := strings.Cut(target, ":")
	if host == "" {
		return model.Target{}, fmt.Errorf("%w: CONNECT target %q has no host", ErrProtocol, target)
	}
	port, err := parsePort(portStr)
	if err != nil {
		return model.Target{}, fmt.Errorf("%w: CONNECT target %q: %v", ErrProtocol, target, err)
	}
	return model.Target{Host: host, Port: port}, nil
}

// ForwardTarget parses an absolute-URI request target. The port defaults to 80.
// The origin-form path is the raw text after the authority with the query kept
// and any fragment cut.
func ForwardTarget(target string) (model.Target, error) {
	scheme, rest, ok := strings.Cut(target, "://")
	if !ok || scheme == "" {
		return model.Target{}, fmt.Errorf("%w: request target %q has no host", ErrProtocol, target)
	}
	authority, requestURI := rest, "/"
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		authority, requestURI = rest[:i], rest[i:]
	}
	requestURI, _, _ = strings.Cut(requestURI, "#")
	if !strings.HasPrefix(requestURI, "/") {
		requestURI = "/" + requestURI
	}

	// Only the authority goes through net/url; the path is never re-encoded.
	u, err := url.Parse(scheme + "://" + authority)
	if err != nil {
		return model.Target{}, fmt.Errorf("%w: request target: %v", ErrProtocol, err)
	}
	host := u.Hostname()
	if host == "" {
		return model.Target{}, fmt.Errorf("%w: request target %q has no host", ErrProtocol, target)
	}

	port := defaultHTTPPort
	if p := u.Port(); p != "" {
		port, err = parsePort(p)
		if err != nil {
			return model.Target{}, fmt.Errorf("%w: request target %q: %v", ErrProtocol, target, err)
		}
	}

	return model.Target{Host: host, Port: port, RequestURI: requestURI}, nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("port %q is not a number", s)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}
