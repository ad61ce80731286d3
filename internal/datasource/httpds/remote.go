package httpds

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
)

// Remote is an upload served over HTTP.
type Remote struct {
	c    *Client
	url  string
	size int64
}

// NewRemote binds url to c.
func NewRemote(c *Client, url string) *Remote { return &Remote{c: c, url: url} }

// Name returns the last path element of the URL, which carries the file
// extension used for format detection.
func (r *Remote) Name() string {
	u, err := url.Parse(r.url)
	if err != nil || u.Path == "" {
		return r.url
	}
	return path.Base(u.Path)
}

// Size is the Content-Length of the last successful Open, or 0 if unknown.
func (r *Remote) Size() int64 { return r.size }

// Open starts the download. Non-2xx responses are errors.
func (r *Remote) Open(ctx context.Context) (io.ReadCloser, error) {
	resp, err := r.c.Get(ctx, r.url)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", r.url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("get %s: status %s", r.url, resp.Status)
	}
	if resp.ContentLength > 0 {
		r.size = resp.ContentLength
	}
	return resp.Body, nil
}
