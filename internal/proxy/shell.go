package proxy

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ShellSource provides the immutable application shell at install time.
type ShellSource interface {
	FetchShell(ctx context.Context, assetPath string) (*Response, error)
}

// OriginShell fetches shell assets from the origin like any other request.
type OriginShell struct {
	Fetcher Fetcher
}

// FetchShell GETs assetPath from the origin. Non-2xx responses are errors.
func (o OriginShell) FetchShell(ctx context.Context, assetPath string) (*Response, error) {
	resp, err := o.Fetcher.Fetch(ctx, &Request{Method: http.MethodGet, URL: assetPath, Header: http.Header{}})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("shell asset %s: status %d", assetPath, resp.Status)
	}
	return resp, nil
}

// S3Config locates a shell published to an S3-compatible bucket.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// S3Shell reads shell assets from an S3-compatible bucket.
// Asset "/app.js" maps to object "<prefix>/app.js"; "/" maps to
// "<prefix>/index.html".
type S3Shell struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewS3Shell creates an S3 shell source.
func NewS3Shell(cfg S3Config) (*S3Shell, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 shell requires endpoint and bucket")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &S3Shell{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ObjectKey maps an asset path to its object key.
func (s *S3Shell) ObjectKey(assetPath string) string {
	p := strings.TrimPrefix(assetPath, "/")
	if p == "" || strings.HasSuffix(p, "/") {
		p += "index.html"
	}
	if s.prefix == "" {
		return p
	}
	return s.prefix + "/" + p
}

// FetchShell downloads the object for assetPath.
func (s *S3Shell) FetchShell(ctx context.Context, assetPath string) (*Response, error) {
	key := s.ObjectKey(assetPath)
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get shell object %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(io.LimitReader(obj, maxBodySize))
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("shell object %s not found in %s", key, s.bucket)
		}
		return nil, fmt.Errorf("read shell object %s: %w", key, err)
	}

	ctype := mime.TypeByExtension(path.Ext(key))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	return &Response{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{ctype}},
		Body:   data,
		Source: SourceStatic,
	}, nil
}
