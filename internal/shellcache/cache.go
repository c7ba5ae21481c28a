// Package shellcache keeps versioned caches of the application shell and of
// schedule API responses, and serves requests from them when offline.
package shellcache

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Shell cache errors.
var (
	// ErrInstallFailed is returned when an asset could not be fetched or the
	// cache could not be written. Nothing is left behind in that case.
	ErrInstallFailed = errors.New("shell cache install failed")

	// ErrInvalidManifest is returned for a manifest that fails validation.
	ErrInvalidManifest = errors.New("invalid shell manifest")

	// ErrEntryTooLarge is returned when a backend cannot hold a response.
	ErrEntryTooLarge = errors.New("cache entry too large")
)

// Response is a stored HTTP response.
type Response struct {
	URL      string      `json:"url"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header,omitempty"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

// Storage is a set of named caches.
type Storage interface {
	// Open returns the named cache, creating it if missing.
	Open(name string) (Cache, error)

	// Has reports whether the named cache exists.
	Has(name string) (bool, error)

	// Delete removes the named cache and reports whether it existed.
	Delete(name string) (bool, error)

	// Keys returns cache names in creation order.
	Keys() ([]string, error)

	// Match looks url up in every cache, in creation order.
	Match(url string) (*Response, bool, error)
}

// Cache is one named set of stored responses keyed by URL.
type Cache interface {
	Name() string
	Match(url string) (*Response, bool, error)
	Put(url string, resp *Response) error

	// PutAll stores every entry or none of them.
	PutAll(entries map[string]*Response) error

	Delete(url string) (bool, error)
	Keys() ([]string, error)
}

// MaxBodySize caps the body of a stored response.
const MaxBodySize = 1 << 20

// NewResponse reads resp fully into a storable Response. The body of resp is
// consumed and closed. A body over MaxBodySize fails with ErrEntryTooLarge.
func NewResponse(url string, resp *http.Response) (*Response, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize+1))
	if err != nil {
		return nil, err
	}
	if len(body) > MaxBodySize {
		return nil, fmt.Errorf("%w: %s body exceeds %d bytes", ErrEntryTooLarge, url, MaxBodySize)
	}

	return &Response{
		URL:      url,
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: time.Now().UTC(),
	}, nil
}

// HTTPResponse builds an *http.Response for req from the stored copy.
func (r *Response) HTTPResponse(req *http.Request) *http.Response {
	header := r.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set("Content-Length", strconv.Itoa(len(r.Body)))

	return &http.Response{
		Status:        strconv.Itoa(r.Status) + " " + http.StatusText(r.Status),
		StatusCode:    r.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}

func cloneResponse(r *Response) *Response {
	c := *r
	c.Header = r.Header.Clone()
	c.Body = append([]byte(nil), r.Body...)
	return &c
}
