// Package service implements request parsing, target resolution and header
// rewriting for the proxy.
package service

import (
	"bufio"
	"errors"
	"log/slog"

	"gloo-proxy/internal/config"
	"gloo-proxy/internal/model"
)

// ErrProtocol marks a malformed request: bad request line, header line,
// Content-Length, CONNECT target or URI, or an oversized header block.
var ErrProtocol = errors.New("protocol error")

// ErrNoRequest is returned when the client closes before completing a header block.
var ErrNoRequest = errors.New("connection closed before request head")

// Request is a parsed client request together with any payload already read.
type Request struct {
	Head    *model.RequestHead
	Payload []byte
}

// ProxyService turns raw client bytes into requests the handler can dispatch.
type ProxyService struct {
	maxHeaderBytes int
	bufferSize     int
	logger         *slog.Logger
}

// NewProxyService creates a ProxyService.
func NewProxyService(cfg *config.Config, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		maxHeaderBytes: cfg.Server.MaxHeader(),
		bufferSize:     cfg.Server.BufferSize,
		logger:         logger.With("component", "proxy_service"),
	}
}

// ReadRequest reads the header block and, when a Content-Length is declared,
// the payload that follows it.
func (s *ProxyService) ReadRequest(r *bufio.Reader) (*Request, error) {
	head, err := ReadHead(r, s.maxHeaderBytes)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("parsed request head",
		"method", head.Method,
		"target", head.Target,
		"version", head.Version,
		"fields", len(head.Fields),
	)

	req := &Request{Head: head}
	if head.HasContentLength {
		req.Payload, err = ReadPayload(r, head.ContentLength, s.bufferSize)
		if err != nil {
			return nil, err
		}
	}
	return req, nil
}

// Resolve returns the origin for the request according to its proxy mode.
func (s *ProxyService) Resolve(head *model.RequestHead) (model.Target, error) {
	if head.Mode() == model.ModeTunnel {
		return TunnelTarget(head.Target)
	}
	return ForwardTarget(head.Target)
}

// RewriteHead builds the origin-bound header block for a forward-mode request.
func (s *ProxyService) RewriteHead(head *model.RequestHead, target model.Target) []byte {
	return Rewrite(head.Method, target.RequestURI, head.Version, head.Fields)
}
