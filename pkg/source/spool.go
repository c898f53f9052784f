package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// Spooled is a source with random access, as columnar formats need.
type Spooled struct {
	Locator Locator
	io.ReaderAt
	Size   int64
	closer func() error
}

// Close releases the spooled data, removing any temp file.
func (s *Spooled) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// Spool opens the locator with random access. Uncompressed local files are
// used in place; S3 objects are fetched with parallel ranged GETs; anything
// else is copied into a temp file that Close removes.
func (o *Opener) Spool(ctx context.Context, loc Locator) (*Spooled, error) {
	switch {
	case loc.Scheme == SchemeFile && !loc.Gzipped():
		f, err := os.Open(loc.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %v", ErrSourceUnavailable, loc.Path, err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: stat %s: %v", ErrSourceUnavailable, loc.Path, err)
		}
		return &Spooled{Locator: loc, ReaderAt: f, Size: info.Size(), closer: f.Close}, nil

	case loc.Scheme == SchemeS3 && !loc.Gzipped():
		c, err := o.s3Client(ctx)
		if err != nil {
			return nil, err
		}
		tf, err := c.DownloadToTemp(ctx, loc.Bucket, loc.Path, o.cfg.TempDir)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
		return &Spooled{Locator: loc, ReaderAt: tf, Size: tf.Size(), closer: tf.Close}, nil
	}

	obj, err := o.Open(ctx, loc)
	if err != nil {
		return nil, err
	}
	defer obj.Body.Close()

	f, err := os.CreateTemp(o.cfg.TempDir, "tabx-spool-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	remove := func() error {
		err := f.Close()
		if rmErr := os.Remove(f.Name()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
			err = rmErr
		}
		return err
	}

	n, err := io.Copy(f, obj.Body)
	if err != nil {
		remove()
		return nil, fmt.Errorf("%w: buffer %s: %v", ErrSourceUnavailable, loc.Raw, err)
	}
	return &Spooled{Locator: loc, ReaderAt: f, Size: n, closer: remove}, nil
}
