// Package archive uploads the full output of finished executions to object storage.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"execplane/internal/store"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const DefaultBucket = "execplane-output"

// Config selects the S3-compatible endpoint. Endpoint is host:port without scheme.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("archive endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("archive endpoint must not include scheme: %q", c.Endpoint)
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return errors.New("archive access key and secret key are required")
	}
	return nil
}

// ObjectStore is the subset of *minio.Client the archiver uses.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// ChunkReader reads every stored chunk of an execution.
type ChunkReader interface {
	ReadAll(ctx context.Context, executionID uuid.UUID) ([]store.OutputChunk, error)
}

// NewMinIOClient builds a client for cfg.
func NewMinIOClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dialer := &net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         dialer.DialContext,
			MaxIdleConns:        20,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
		},
	})
}

// Archiver is a terminal hook that stores output as executions/<id>/output.log.
type Archiver struct {
	objects ObjectStore
	chunks  ChunkReader
	bucket  string
	region  string
}

func New(objects ObjectStore, chunks ChunkReader, bucket, region string) *Archiver {
	if bucket == "" {
		bucket = DefaultBucket
	}
	return &Archiver{objects: objects, chunks: chunks, bucket: bucket, region: region}
}

// EnsureBucket creates the bucket if it does not exist.
func (a *Archiver) EnsureBucket(ctx context.Context) error {
	exists, err := a.objects.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.objects.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", a.bucket, err)
	}
	return nil
}

// ObjectKey is where the output of id is stored.
func ObjectKey(id uuid.UUID) string {
	return "executions/" + id.String() + "/output.log"
}

func (a *Archiver) Name() string { return "archive" }

// OnTerminal uploads the concatenated output. Executions without output are skipped.
func (a *Archiver) OnTerminal(ctx context.Context, e *store.Execution) error {
	chunks, err := a.chunks.ReadAll(ctx, e.ID)
	if err != nil {
		return fmt.Errorf("read output of %s: %w", e.ID, err)
	}
	if len(chunks) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, c := range chunks {
		buf.WriteString(c.Payload)
	}

	_, err = a.objects.PutObject(ctx, a.bucket, ObjectKey(e.ID), bytes.NewReader(buf.Bytes()), int64(buf.Len()), minio.PutObjectOptions{
		ContentType: "text/plain; charset=utf-8",
		UserMetadata: map[string]string{
			"execution-id": e.ID.String(),
			"script-id":    e.ScriptID,
			"client-id":    e.ClientID,
			"status":       string(e.Status),
			"chunks":       fmt.Sprint(len(chunks)),
		},
	})
	if err != nil {
		return fmt.Errorf("upload output of %s: %w", e.ID, err)
	}
	return nil
}
