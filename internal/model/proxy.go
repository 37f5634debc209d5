// Package model defines shared types for the proxy.
package model

import "strings"

// MethodConnect is the request method that selects tunnel mode.
const MethodConnect = "CONNECT"

// Header names the proxy inspects or rewrites.
const (
	HeaderContentLength   = "Content-Length"
	HeaderConnection      = "Connection"
	HeaderProxyConnection = "Proxy-Connection"
)

// HeaderField is a single header line split into name and value, with the
// client's original casing kept.
type HeaderField struct {
	Name  string
	Value string
}

// RequestHead is the parsed request line and header block of a client request.
type RequestHead struct {
	Method  string
	Target  string
	Version string
	Fields  []HeaderField

	// ContentLength is only meaningful when HasContentLength is set.
	ContentLength    int64
	HasContentLength bool
}

// Mode reports which proxy mode the request selects.
func (h *RequestHead) Mode() ProxyMode {
	return ModeOf(h.Method)
}

// Lookup returns the value of the first field whose name matches name
// case-insensitively.
func (h *RequestHead) Lookup(name string) (string, bool) {
	for _, f := range h.Fields {
		if HeaderNameIs(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

// ProxyMode selects between opaque tunneling and header-rewriting forwarding.
type ProxyMode int

const (
	// ModeForward rewrites the header block and relays the origin's response.
	ModeForward ProxyMode = iota
	// ModeTunnel answers with 200 Connection Established and copies raw bytes both ways.
	ModeTunnel
)

// ModeOf returns ModeTunnel for CONNECT and ModeForward for every other method.
func ModeOf(method string) ProxyMode {
	if method == MethodConnect {
		return ModeTunnel
	}
	return ModeForward
}

func (m ProxyMode) String() string {
	switch m {
	case ModeTunnel:
		return "tunnel"
	case ModeForward:
		return "forward"
	default:
		return "unknown"
	}
}

// Target is the origin a request is sent to.
type Target struct {
	Host string
	Port int

	// RequestURI is the origin-form path and query; empty in tunnel mode.
	RequestURI string
}

// HeaderNameIs compares two header names case-insensitively.
func HeaderNameIs(name, want string) bool {
	return strings.EqualFold(name, want)
}
