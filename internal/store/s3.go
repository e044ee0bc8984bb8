package store

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/samber/oops"

	"preseedd/internal/fsutil"
)

// S3Options configures an S3-compatible backend.
type S3Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	// Prefix is prepended to every key, e.g. "preseed/".
	Prefix string
}

// S3 stores documents as objects in a bucket.
type S3 struct {
	client *minio.Client
	bucket string
	prefix string
}

// splitEndpoint turns "host:port" or "http(s)://host:port" into the host
// minio expects and whether to use TLS.
func splitEndpoint(raw string) (host string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, oops.Errorf("empty endpoint")
	}
	if !strings.Contains(raw, "://") {
		return raw, false, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, oops.Wrapf(err, "parse endpoint %q", raw)
	}
	switch {
	case u.Scheme != "http" && u.Scheme != "https":
		return "", false, oops.Errorf("endpoint %q: scheme must be http or https", raw)
	case u.Host == "":
		return "", false, oops.Errorf("endpoint %q has no host", raw)
	case strings.Trim(u.Path, "/") != "":
		return "", false, oops.Errorf("endpoint %q must not carry a path; use prefix instead", raw)
	}
	return u.Host, u.Scheme == "https", nil
}

// NewS3 connects to the endpoint and checks that the bucket exists.
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	if opts.Bucket == "" {
		return nil, oops.Errorf("s3: bucket is required")
	}
	endpoint, secure, err := splitEndpoint(opts.Endpoint)
	if err != nil {
		return nil, oops.Wrapf(err, "s3 endpoint")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, oops.Wrapf(err, "s3 client")
	}
	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, oops.Wrapf(err, "s3 bucket %s", opts.Bucket)
	}
	if !exists {
		return nil, oops.Errorf("s3 bucket does not exist: %s", opts.Bucket)
	}
	return &S3{client: client, bucket: opts.Bucket, prefix: cleanPrefix(opts.Prefix)}, nil
}

func cleanPrefix(p string) string {
	p = fsutil.CleanKey(p)
	if p == "" {
		return ""
	}
	return p + "/"
}

func (s *S3) object(key string) string {
	return s.prefix + fsutil.CleanKey(key)
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, s.object(key), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, oops.Wrapf(err, "stat %s", key)
	}
	return true, nil
}

func (s *S3) Read(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.object(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, s.readErr(key, err)
	}
	defer obj.Close()
	b, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.readErr(key, err)
	}
	return b, nil
}

func (s *S3) readErr(key string, err error) error {
	if isNoSuchKey(err) {
		return oops.Wrapf(ErrNotExist, "read %s", key)
	}
	return oops.Wrapf(err, "read %s", key)
}

// Write uploads data in one PUT. Object stores have no folders, so nothing
// needs creating first.
func (s *S3) Write(ctx context.Context, key string, data []byte) error {
	if fsutil.CleanKey(key) == "" {
		return oops.Errorf("write: empty key")
	}
	_, err := s.client.PutObject(ctx, s.bucket, s.object(key), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"})
	if err != nil {
		return oops.Wrapf(err, "write %s", key)
	}
	return nil
}
