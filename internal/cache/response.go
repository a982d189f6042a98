package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Response is a fully buffered HTTP response. Bodies are held in memory so a response
// can be stored and returned at the same time; Clone gives each consumer its own copy.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// NewResponse builds a response with a single Content-Type header.
func NewResponse(status int, contentType string, body []byte) *Response {
	header := make(http.Header)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	return &Response{Status: status, Header: header, Body: body}
}

// ReadResponse drains resp into a buffered Response, closing the body. A positive limit
// caps the number of body bytes accepted.
func ReadResponse(resp *http.Response, limit int64) (*Response, error) {
	if resp == nil {
		return nil, fmt.Errorf("cache: nil response")
	}
	defer resp.Body.Close()

	reader := io.Reader(resp.Body)
	if limit > 0 {
		reader = io.LimitReader(resp.Body, limit+1)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("cache: read body: %w", err)
	}
	if limit > 0 && int64(len(body)) > limit {
		return nil, fmt.Errorf("cache: body exceeds %d bytes", limit)
	}

	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
	}, nil
}

// OK reports whether the status is in the 2xx range.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status <= 299
}

// Clone returns a deep copy of the response.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cpy := &Response{Status: r.Status, Header: r.Header.Clone()}
	if cpy.Header == nil {
		cpy.Header = make(http.Header)
	}
	if r.Body != nil {
		cpy.Body = bytes.Clone(r.Body)
	}
	return cpy
}

// Digest fingerprints the status and body, used to skip rewriting unchanged entries.
func (r *Response) Digest() string {
	if r == nil {
		return ""
	}
	h := xxhash.New()
	_, _ = h.WriteString(strconv.Itoa(r.Status))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(r.Body)
	return strconv.FormatUint(h.Sum64(), 16)
}

// ContentType returns the Content-Type header value.
func (r *Response) ContentType() string {
	if r == nil || r.Header == nil {
		return ""
	}
	return r.Header.Get("Content-Type")
}

// WriteTo copies the response onto w. Hop-by-hop and length headers are recomputed by net/http.
func (r *Response) WriteTo(w http.ResponseWriter) error {
	dst := w.Header()
	for name, values := range r.Header {
		if skipHeader(name) {
			continue
		}
		for _, value := range values {
			dst.Add(name, value)
		}
	}
	dst.Set("Content-Length", strconv.Itoa(len(r.Body)))

	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, err := w.Write(r.Body)
	return err
}

var hopHeaders = map[string]struct{}{
	"Connection":          {},
	"Content-Length":      {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

func skipHeader(name string) bool {
	_, ok := hopHeaders[http.CanonicalHeaderKey(name)]
	return ok
}
