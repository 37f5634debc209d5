package service

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gloo-proxy/internal/model"
)

// ReadHead reads the request line and header block up to the first bare CRLF
// line and parses it. maxBytes bounds the block size; 0 disables the bound.
//
// End-of-stream before the blank line yields ErrNoRequest.
func ReadHead(r *bufio.Reader, maxBytes int) (*model.RequestHead, error) {
	var lines []string
	total := 0
	for {
		limit := -1
		if maxBytes > 0 {
			limit = maxBytes - total
		}
		line, err := readLine(r, limit)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrNoRequest
			}
			if errors.Is(err, errLineTooLong) {
				return nil, fmt.Errorf("%w: header block exceeds %d bytes", ErrProtocol, maxBytes)
			}
			return nil, fmt.Errorf("read header block: %w", err)
		}
		total += len(line)
		if line == "\r\n" {
			break
		}
		lines = append(lines, strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r"))
	}
	return ParseHead(lines)
}

var errLineTooLong = errors.New("line exceeds limit")

// readLine returns the next line including its terminator. A negative limit
// means unbounded. A line cut short by end-of-stream is returned with io.EOF.
func readLine(r *bufio.Reader, limit int) (string, error) {
	var buf []byte
	for {
		chunk, err := r.ReadSlice('\n')
		buf = append(buf, chunk...)
		if limit >= 0 && len(buf) > limit {
			return "", errLineTooLong
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return string(buf), err
	}
}

// ParseHead parses header block lines (terminators already stripped, blank
// line excluded) into a RequestHead.
func ParseHead(lines []string) (*model.RequestHead, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: missing request line", ErrProtocol)
	}

	parts := strings.Split(lines[0], " ")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: request line %q has %d space-separated tokens, want 3", ErrProtocol, lines[0], len(parts))
	}

	head := &model.RequestHead{
		Method:  parts[0],
		Target:  parts[1],
		Version: parts[2],
		Fields:  make([]model.HeaderField, 0, len(lines)-1),
	}

	for _, line := range lines[1:] {
		name, value, ok := strings.Cut(line, ": ")
		if !ok {
			return nil, fmt.Errorf("%w: header line %q has no \": \" separator", ErrProtocol, line)
		}
		head.Fields = append(head.Fields, model.HeaderField{Name: name, Value: value})
	}

	if v, ok := head.Lookup(model.HeaderContentLength); ok {
		digits := strings.TrimSpace(v)
		if digits == "" || digits[0] < '0' || digits[0] > '9' {
			return nil, fmt.Errorf("%w: invalid Content-Length %q", ErrProtocol, v)
		}
		n, err := strconv.ParseInt(digits, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid Content-Length %q", ErrProtocol, v)
		}
		head.ContentLength = n
		head.HasContentLength = true
	}

	return head, nil
}

// ReadPayload reads chunkSize-sized chunks from r until at least n bytes have
// been collected. The result may hold more than n bytes when the last chunk
// overshoots; the extra bytes are kept and forwarded as-is.
func ReadPayload(r io.Reader, n int64, chunkSize int) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}

	// The declared length comes from the client, so the initial allocation
	// is capped and the slice grows as data actually arrives.
	payload := make([]byte, 0, min(n, int64(maxInitialPayload)))
	chunk := make([]byte, chunkSize)
	for int64(len(payload)) < n {
		k, err := r.Read(chunk)
		payload = append(payload, chunk[:k]...)
		if err != nil {
			if errors.Is(err, io.EOF) {
				if int64(len(payload)) >= n {
					break
				}
				return nil, fmt.Errorf("read payload: got %d of %d bytes: %w", len(payload), n, io.ErrUnexpectedEOF)
			}
			return nil, fmt.Errorf("read payload: %w", err)
		}
	}
	return payload, nil
}

const maxInitialPayload = 1 << 20
