// Package source abstracts where raw newline-delimited JSON lives: a local
// directory tree or an S3 bucket/prefix. The staging loader walks a source
// object-by-object and never cares which kind it got.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// Failure kinds the bulk-copy contract reports to the caller. Backend detail
// stays attached via wrapping; callers test with errors.Is.
var (
	ErrNotFound     = errors.New("source not found")
	ErrAccessDenied = errors.New("source access denied")
)

// Reader yields the raw objects of one source location.
type Reader interface {
	// Walk calls fn once per JSON object file, in a stable order, with a
	// streaming reader. Walk closes the underlying handle after fn returns.
	// A non-nil error from fn stops the walk and is returned unchanged.
	Walk(ctx context.Context, fn func(name string, r io.Reader) error) error
}

// FromURL builds a Reader for a location string.
//
//	s3://bucket/prefix  -> S3 (client required)
//	anything else       -> local directory tree
func FromURL(loc string, client s3iface.S3API) (Reader, error) {
	if strings.HasPrefix(loc, "s3://") {
		if client == nil {
			return nil, fmt.Errorf("source %q: missing s3 client", loc)
		}
		u, err := url.Parse(loc)
		if err != nil {
			return nil, fmt.Errorf("source: parse S3 URL %q: %w", loc, err)
		}
		return &S3{
			Bucket: u.Host,
			Prefix: strings.TrimPrefix(u.Path, "/"),
			Client: client,
		}, nil
	}
	if loc == "" {
		return nil, fmt.Errorf("source: empty location")
	}
	return &Dir{Path: loc}, nil
}
