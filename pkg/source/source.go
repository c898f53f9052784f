// Package source resolves input locators (local paths, http(s) URLs and
// s3:// URIs) to readable byte streams.
package source

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/eunmann/tabx/internal/logctx"
	"github.com/eunmann/tabx/pkg/s3fetch"
)

// ErrSourceUnavailable indicates the source could not be reached or does not exist.
var ErrSourceUnavailable = errors.New("source unavailable")

// ErrEmpty indicates a compressed source holds no bytes at all.
var ErrEmpty = errors.New("empty source")

// ErrCorrupt indicates the source was reached but its encoding is broken
// (for example a bad gzip header).
var ErrCorrupt = errors.New("corrupt source")

// Scheme identifies where a locator points.
type Scheme int

const (
	// SchemeFile is a local filesystem path.
	SchemeFile Scheme = iota
	// SchemeHTTP is an http or https URL.
	SchemeHTTP
	// SchemeS3 is an s3://bucket/key URI.
	SchemeS3
)

func (s Scheme) String() string {
	switch s {
	case SchemeHTTP:
		return "http"
	case SchemeS3:
		return "s3"
	default:
		return "file"
	}
}

// Locator is a parsed source reference.
type Locator struct {
	Raw    string
	Scheme Scheme
	// Path is the local path for SchemeFile, the URL for SchemeHTTP and the
	// object key for SchemeS3.
	Path   string
	Bucket string
}

// Name returns the final path element, which carries the format suffix
// (.csv, .tsv, .parquet, .gz).
func (l Locator) Name() string {
	p := l.Path
	if l.Scheme == SchemeHTTP {
		if u, err := url.Parse(p); err == nil {
			p = u.Path
		}
	}
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	return p
}

// Ext returns the lower-cased format suffix with any trailing .gz removed,
// e.g. ".csv" for "metadata.csv.gz".
func (l Locator) Ext() string {
	name := strings.ToLower(strings.TrimSuffix(strings.ToLower(l.Name()), ".gz"))
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i:]
	}
	return ""
}

// Gzipped reports whether the locator names a gzip-compressed file.
func (l Locator) Gzipped() bool {
	return strings.HasSuffix(strings.ToLower(l.Name()), ".gz")
}

func (l Locator) String() string { return l.Raw }

// Parse classifies a raw locator.
func Parse(raw string) (Locator, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Locator{}, fmt.Errorf("%w: empty locator", ErrSourceUnavailable)
	}

	lower := strings.ToLower(raw)
	switch {
	case strings.HasPrefix(lower, "s3://"):
		bucket, key, err := s3fetch.ParseS3URI(raw)
		if err != nil {
			return Locator{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
		if key == "" {
			return Locator{}, fmt.Errorf("%w: %s has no object key", ErrSourceUnavailable, raw)
		}
		return Locator{Raw: raw, Scheme: SchemeS3, Bucket: bucket, Path: key}, nil
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return Locator{Raw: raw, Scheme: SchemeHTTP, Path: raw}, nil
	case strings.HasPrefix(lower, "file://"):
		u, err := url.Parse(raw)
		if err != nil {
			return Locator{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
		return Locator{Raw: raw, Scheme: SchemeFile, Path: u.Path}, nil
	default:
		return Locator{Raw: raw, Scheme: SchemeFile, Path: raw}, nil
	}
}

// Object is an open source. Size is the encoded size in bytes, or -1 when
// unknown. Body must be closed.
type Object struct {
	Locator Locator
	Body    io.ReadCloser
	Size    int64
}

// S3Opener is the part of s3fetch.Client used for s3:// locators.
type S3Opener interface {
	StreamObject(ctx context.Context, bucket, key string) (*s3fetch.Object, error)
	ObjectSize(ctx context.Context, bucket, key string) (int64, error)
	DownloadToTemp(ctx context.Context, bucket, key, dir string) (*s3fetch.TempFile, error)
}

// Config configures an Opener.
type Config struct {
	// HTTPTimeout bounds each HTTP request including the body read. Default 60s.
	HTTPTimeout time.Duration

	// TempDir holds spooled copies of remote sources. Default os.TempDir().
	TempDir string

	// HTTPClient overrides the client built from HTTPTimeout.
	HTTPClient *http.Client

	// S3 overrides the lazily created S3 client.
	S3 S3Opener

	// S3Config configures the lazily created S3 client.
	S3Config s3fetch.Config
}

// Opener opens locators. The zero value is not usable; use NewOpener.
type Opener struct {
	cfg  Config
	http *http.Client

	mu    sync.Mutex
	s3    S3Opener
	newS3 func(ctx context.Context) (S3Opener, error)
}

// NewOpener creates an opener. The S3 client is created on first use so
// local and HTTP sources never touch AWS configuration.
func NewOpener(cfg Config) *Opener {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 60 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	o := &Opener{cfg: cfg, http: client, s3: cfg.S3}
	o.newS3 = func(ctx context.Context) (S3Opener, error) {
		c, err := s3fetch.NewClient(ctx, o.cfg.S3Config)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return o
}

// s3Client returns the shared S3 client, creating it once. Opens of
// several sources run concurrently.
func (o *Opener) s3Client(ctx context.Context) (S3Opener, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.s3 != nil {
		return o.s3, nil
	}
	c, err := o.newS3(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	o.s3 = c
	return c, nil
}

// Open opens the locator for sequential reading, decompressing .gz sources.
func (o *Opener) Open(ctx context.Context, loc Locator) (*Object, error) {
	log := logctx.FromContext(ctx)
	log.Debug().Str("source", loc.Raw).Str("scheme", loc.Scheme.String()).Msg("opening source")

	var (
		body io.ReadCloser
		size int64 = -1
	)
	switch loc.Scheme {
	case SchemeFile:
		f, err := os.Open(loc.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %v", ErrSourceUnavailable, loc.Path, err)
		}
		if info, err := f.Stat(); err == nil {
			if info.IsDir() {
				f.Close()
				return nil, fmt.Errorf("%w: %s is a directory", ErrSourceUnavailable, loc.Path)
			}
			size = info.Size()
		}
		body = f
	case SchemeHTTP:
		b, n, err := o.get(ctx, loc.Path)
		if err != nil {
			return nil, err
		}
		body, size = b, n
	case SchemeS3:
		c, err := o.s3Client(ctx)
		if err != nil {
			return nil, err
		}
		obj, err := c.StreamObject(ctx, loc.Bucket, loc.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
		body, size = obj.Body, obj.Size
	}

	if loc.Gzipped() {
		gz, err := gzip.NewReader(body)
		if err != nil {
			body.Close()
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: %s is a zero-byte gzip file", ErrEmpty, loc.Raw)
			}
			return nil, fmt.Errorf("%w: create gzip reader for %s: %v", ErrCorrupt, loc.Raw, err)
		}
		body = &gzipBody{Reader: gz, underlying: body}
	}

	return &Object{Locator: loc, Body: body, Size: size}, nil
}

func (o *Opener) get(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: build request: %v", ErrSourceUnavailable, err)
	}
	resp, err := o.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: GET %s: %v", ErrSourceUnavailable, rawURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("%w: GET %s: %s", ErrSourceUnavailable, rawURL, resp.Status)
	}
	return resp.Body, resp.ContentLength, nil
}

// gzipBody closes both the gzip reader and the stream beneath it.
type gzipBody struct {
	*gzip.Reader
	underlying io.Closer
}

func (g *gzipBody) Close() error {
	gzErr := g.Reader.Close()
	if err := g.underlying.Close(); err != nil {
		return err
	}
	return gzErr
}
