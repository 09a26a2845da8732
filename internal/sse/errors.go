package sse

import "errors"

var (
	// ErrStreamingNotSupported means the response writer chain cannot flush,
	// usually a middleware wrapper that hides http.Flusher.
	ErrStreamingNotSupported = errors.New("security event stream: response writer cannot flush")

	// ErrStreamWrite wraps a failed write to a stream client.
	ErrStreamWrite = errors.New("security event stream: client write failed")

	// ErrStreamEvicted is reported for a stream closed to make room for a
	// newer one from the same etablissement.
	ErrStreamEvicted = errors.New("security event stream: evicted by a newer connection")
)
