// Package datasource opens uploads by location: a local path or an http(s)
// URL.
package datasource

import (
	"context"
	"io"
	"strings"

	"smartetl/internal/datasource/file"
	"smartetl/internal/datasource/httpds"
)

// Source yields the raw bytes of one upload.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	// Name is the file name used for format detection.
	Name() string
	// Size is the byte size if known, else 0. Remote sources learn it on Open.
	Size() int64
}

// New returns the source for location. client is used for URLs and may be
// nil, in which case a default client is created.
func New(location string, client *httpds.Client) Source {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		if client == nil {
			client = httpds.NewClient(httpds.Config{MaxRetries: 2})
		}
		return httpds.NewRemote(client, location)
	}
	return file.NewLocal(location)
}
