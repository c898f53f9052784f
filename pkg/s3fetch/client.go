// Package s3fetch reads source objects from Amazon S3.
package s3fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// API is the subset of the S3 client used by Client. *s3.Client satisfies it.
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Config configures the S3 client.
type Config struct {
	// Region overrides the region from the default AWS configuration chain.
	Region string

	// PartSize is the ranged-GET size used when downloading to a temp file.
	// Default: 16MB.
	PartSize int64

	// Concurrency is the number of parallel ranged GETs per download.
	// Default: 4.
	Concurrency int
}

func (c *Config) applyDefaults() {
	if c.PartSize <= 0 {
		c.PartSize = 16 * 1024 * 1024
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
}

// Client provides streaming and spooled access to S3 objects.
type Client struct {
	api        API
	downloader *manager.Downloader
}

// NewClient creates a client from the default AWS configuration chain.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewClientWithAPI(s3.NewFromConfig(awsCfg), cfg), nil
}

// NewClientWithAPI creates a client around an existing S3 API implementation.
func NewClientWithAPI(api API, cfg Config) *Client {
	cfg.applyDefaults()
	return &Client{
		api: api,
		downloader: manager.NewDownloader(api, func(d *manager.Downloader) {
			d.PartSize = cfg.PartSize
			d.Concurrency = cfg.Concurrency
		}),
	}
}

// Object is an open S3 object body. Size is -1 when S3 did not report it.
type Object struct {
	Body io.ReadCloser
	Size int64
}

// StreamObject opens an object for sequential reading.
func (c *Client) StreamObject(ctx context.Context, bucket, key string) (*Object, error) {
	resp, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object s3://%s/%s: %w", bucket, key, err)
	}
	size := int64(-1)
	if resp.ContentLength != nil {
		size = *resp.ContentLength
	}
	return &Object{Body: resp.Body, Size: size}, nil
}

// ObjectSize returns the object size from a HEAD request.
func (c *Client) ObjectSize(ctx context.Context, bucket, key string) (int64, error) {
	resp, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("head object s3://%s/%s: %w", bucket, key, err)
	}
	return aws.ToInt64(resp.ContentLength), nil
}

// DownloadToTemp downloads an object into a temp file in dir (os.TempDir if
// empty) using parallel ranged GETs. The file keeps the key's extension and
// is removed when closed.
func (c *Client) DownloadToTemp(ctx context.Context, bucket, key, dir string) (*TempFile, error) {
	f, err := os.CreateTemp(dir, "tabx-s3-*"+tempSuffix(key))
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	n, err := c.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
	}

	return &TempFile{File: f, size: n}, nil
}

func tempSuffix(key string) string {
	base := path.Base(key)
	if i := strings.Index(base, "."); i >= 0 {
		return base[i:]
	}
	return ""
}

// TempFile is a downloaded object on local disk. Close removes it.
type TempFile struct {
	*os.File
	size int64
}

// Size returns the number of bytes downloaded.
func (t *TempFile) Size() int64 { return t.size }

// Close closes and removes the temp file.
func (t *TempFile) Close() error {
	err := t.File.Close()
	if rmErr := os.Remove(t.Name()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
		err = rmErr
	}
	if err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return nil
}
