package middleware

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
)

// BodyExcerptLimit bounds how much of a request body is kept for logs.
const BodyExcerptLimit = 1000

type bodyKey struct{}

// bodyCapture keeps the first BodyExcerptLimit bytes the handler reads.
type bodyCapture struct {
	io.ReadCloser
	mu        sync.Mutex
	buf       []byte
	truncated bool
	skip      bool
}

func (b *bodyCapture) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 && !b.skip {
		b.mu.Lock()
		room := BodyExcerptLimit - len(b.buf)
		switch {
		case room >= n:
			b.buf = append(b.buf, p[:n]...)
		case room > 0:
			b.buf = append(b.buf, p[:room]...)
			b.truncated = true
		default:
			b.truncated = true
		}
		b.mu.Unlock()
	}
	return n, err
}

func (b *bodyCapture) excerpt() string {
	if b.skip {
		return "<multipart body omitted>"
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return string(b.buf) + "... (truncated)"
	}
	return string(b.buf)
}

// captureBody wraps r.Body once per request and returns the request carrying
// the capture on its context.
func captureBody(r *http.Request) (*http.Request, *bodyCapture) {
	if bc, ok := r.Context().Value(bodyKey{}).(*bodyCapture); ok {
		return r, bc
	}
	if r.Body == nil {
		r.Body = http.NoBody
	}
	bc := &bodyCapture{
		ReadCloser: r.Body,
		skip:       strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/"),
	}
	r = r.WithContext(context.WithValue(r.Context(), bodyKey{}, bc))
	r.Body = bc
	return r, bc
}

// BodyExcerpt returns what has been read of the request body so far, up to
// BodyExcerptLimit bytes. Multipart uploads are never echoed.
func BodyExcerpt(r *http.Request) string {
	if bc, ok := r.Context().Value(bodyKey{}).(*bodyCapture); ok {
		return bc.excerpt()
	}
	return ""
}
