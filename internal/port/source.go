package port

import (
	"context"
	"io"
)

// RemoteInfo describes a remote module payload.
type RemoteInfo struct {
	// Size is the total content length, or -1 when the server does not report it
	Size          int64
	AcceptsRanges bool
	ETag          string
}

// RemoteBody is an open response stream.
type RemoteBody struct {
	Body io.ReadCloser
	// Partial is true when the server honored the requested range (206)
	Partial bool
	// Length is the number of bytes in Body, or -1 when unknown
	Length int64
}

// Source fetches module payloads over the network.
type Source interface {
	// Probe determines the total size of the payload at url
	Probe(ctx context.Context, url string) (*RemoteInfo, error)

	// Open starts streaming url from offset. An offset of 0 requests the whole payload
	Open(ctx context.Context, url string, offset int64) (*RemoteBody, error)
}
