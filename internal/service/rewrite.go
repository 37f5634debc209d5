package service

import (
	"bytes"

	"gloo-proxy/internal/model"
)

const connectionClose = model.HeaderConnection + ": close\r\n"

// Rewrite builds the header block sent to the origin in forward mode.
//
// Proxy-Connection headers are dropped, every Connection header becomes
// "Connection: close", and all other fields keep their original order and
// casing. If no Connection header was emitted one is appended.
func Rewrite(method, path, version string, fields []model.HeaderField) []byte {
	var b bytes.Buffer
	b.Grow(len(method) + len(path) + len(version) + 64*len(fields))

	b.WriteString(method)
	b.WriteByte(' ')
	b.WriteString(path)
	b.WriteByte(' ')
	b.WriteString(version)
	b.WriteString("\r\n")

	connectionEmitted := false
	for _, f := range fields {
		switch {
		case model.HeaderNameIs(f.Name, model.HeaderProxyConnection):
			continue
		case model.HeaderNameIs(f.Name, model.HeaderConnection):
			b.WriteString(connectionClose)
			connectionEmitted = true
		default:
			b.WriteString(f.Name)
			b.WriteString(": ")
			b.WriteString(f.Value)
			b.WriteString("\r\n")
		}
	}
	if !connectionEmitted {
		b.WriteString(connectionClose)
	}

	b.WriteString("\r\n")
	return b.Bytes()
}
