package s3fetch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var errNoSuchKey = errors.New("NoSuchKey")

// fakeS3 serves whole objects from memory and ignores Range headers, which
// the download manager accepts for objects smaller than one part.
type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errNoSuchKey
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errNoSuchKey
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

const irisHead = "sepal_length,species\n5.1,setosa\n7.0,versicolor\n"

func newFakeClient() *Client {
	return NewClientWithAPI(&fakeS3{objects: map[string][]byte{
		"data/iris/iris.csv": []byte(irisHead),
	}}, Config{})
}

func TestStreamObject(t *testing.T) {
	c := newFakeClient()

	obj, err := c.StreamObject(context.Background(), "data", "iris/iris.csv")
	if err != nil {
		t.Fatalf("StreamObject failed: %v", err)
	}
	defer obj.Body.Close()

	if obj.Size != int64(len(irisHead)) {
		t.Errorf("Size = %d, want %d", obj.Size, len(irisHead))
	}
	got, _ := io.ReadAll(obj.Body)
	if string(got) != irisHead {
		t.Errorf("body = %q, want %q", got, irisHead)
	}
}

func TestStreamObjectMissing(t *testing.T) {
	c := newFakeClient()

	_, err := c.StreamObject(context.Background(), "data", "nope.csv")
	if !errors.Is(err, errNoSuchKey) {
		t.Fatalf("expected wrapped NoSuchKey, got %v", err)
	}
	if !strings.Contains(err.Error(), "s3://data/nope.csv") {
		t.Errorf("error should name the object, got: %v", err)
	}
}

func TestObjectSize(t *testing.T) {
	c := newFakeClient()

	size, err := c.ObjectSize(context.Background(), "data", "iris/iris.csv")
	if err != nil {
		t.Fatalf("ObjectSize failed: %v", err)
	}
	if size != int64(len(irisHead)) {
		t.Errorf("ObjectSize = %d, want %d", size, len(irisHead))
	}
}

func TestDownloadToTemp(t *testing.T) {
	c := newFakeClient()
	dir := t.TempDir()

	tf, err := c.DownloadToTemp(context.Background(), "data", "iris/iris.csv", dir)
	if err != nil {
		t.Fatalf("DownloadToTemp failed: %v", err)
	}
	if filepath.Ext(tf.Name()) != ".csv" {
		t.Errorf("temp file %q should keep the .csv extension", tf.Name())
	}
	if tf.Size() != int64(len(irisHead)) {
		t.Errorf("Size() = %d, want %d", tf.Size(), len(irisHead))
	}

	buf := make([]byte, 12)
	if _, err := tf.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if string(buf) != "sepal_length" {
		t.Errorf("ReadAt = %q, want sepal_length", buf)
	}

	name := tf.Name()
	if err := tf.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := os.Stat(name); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("temp file should be removed on close, stat err = %v", err)
	}
}

func TestDownloadToTempMissing(t *testing.T) {
	c := newFakeClient()
	dir := t.TempDir()

	if _, err := c.DownloadToTemp(context.Background(), "data", "missing.parquet", dir); err == nil {
		t.Fatal("expected error for missing object")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("failed download left %d files behind", len(entries))
	}
}

func TestParseS3URI(t *testing.T) {
	tests := []struct {
		uri        string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{uri: "s3://my-bucket/path/to/iris.csv", wantBucket: "my-bucket", wantKey: "path/to/iris.csv"},
		{uri: "s3://bucket/key", wantBucket: "bucket", wantKey: "key"},
		{uri: "s3://bucket-only/", wantBucket: "bucket-only", wantKey: ""},
		{uri: "s3://bucket", wantBucket: "bucket", wantKey: ""},
		{uri: "https://bucket/key", wantErr: true},
		{uri: "s3:///key", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, key, err := ParseS3URI(tt.uri)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if bucket != tt.wantBucket {
				t.Errorf("bucket = %q, want %q", bucket, tt.wantBucket)
			}
			if key != tt.wantKey {
				t.Errorf("key = %q, want %q", key, tt.wantKey)
			}
		})
	}
}
