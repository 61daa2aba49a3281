// Package archive uploads run artifacts to S3-compatible object storage
// so remediation history survives the operator's workstation.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/justapithecus/mender/log"
)

// Config holds configuration for the S3 archive target.
type Config struct {
	// S3Path selects the destination, "s3://bucket/prefix" or "bucket/prefix".
	S3Path string
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers
	// (e.g. Cloudflare R2, MinIO). Empty uses the default AWS endpoint.
	Endpoint string
	// UsePathStyle forces path-style addressing (bucket in path, not subdomain).
	// Required by most S3-compatible providers (R2, MinIO, etc.).
	UsePathStyle bool
}

// ParseS3Path parses "s3://bucket/prefix", "bucket/prefix", or "bucket".
func ParseS3Path(p string) (bucket, prefix string) {
	p = strings.TrimPrefix(p, "s3://")
	parts := strings.SplitN(p, "/", 2)
	bucket = parts[0]
	if len(parts) > 1 {
		prefix = strings.Trim(parts[1], "/")
	}
	return bucket, prefix
}

// objectPutter is the slice of the S3 API the uploader needs.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader copies run state and memory artifacts into a bucket.
type Uploader struct {
	client objectPutter
	bucket string
	prefix string
	logger *log.Logger
}

// New creates an uploader from the given config using the AWS SDK default
// credential chain (env vars, shared config, IAM role).
func New(ctx context.Context, cfg Config, logger *log.Logger) (*Uploader, error) {
	bucket, prefix := ParseS3Path(cfg.S3Path)
	if bucket == "" {
		return nil, errors.New("archive requires an S3 bucket")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &Uploader{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: bucket,
		prefix: prefix,
		logger: logger,
	}, nil
}

// ArchiveRun uploads the run's state snapshot under
// <prefix>/runs/<run_id>/state.json.
func (u *Uploader) ArchiveRun(ctx context.Context, runsDir, runID string) error {
	local := filepath.Join(runsDir, runID, "state.json")
	if err := u.putFile(ctx, local, u.key("runs", runID, "state.json")); err != nil {
		return fmt.Errorf("archive run %s: %w", runID, err)
	}
	return nil
}

// ArchiveMemory uploads the memory graph and every item body under
// <prefix>/memory/. Returns the number of objects uploaded.
func (u *Uploader) ArchiveMemory(ctx context.Context, memoryDir string) (int, error) {
	uploaded := 0

	graph := filepath.Join(memoryDir, "graph.json")
	if _, err := os.Stat(graph); err == nil {
		if err := u.putFile(ctx, graph, u.key("memory", "graph.json")); err != nil {
			return uploaded, err
		}
		uploaded++
	}

	items, err := filepath.Glob(filepath.Join(memoryDir, "items", "*.md"))
	if err != nil {
		return uploaded, err
	}
	for _, item := range items {
		if err := u.putFile(ctx, item, u.key("memory", "items", filepath.Base(item))); err != nil {
			return uploaded, err
		}
		uploaded++
	}

	u.logger.Info("memory archived", map[string]any{
		"bucket":  u.bucket,
		"objects": uploaded,
	})
	return uploaded, nil
}

func (u *Uploader) key(parts ...string) string {
	if u.prefix != "" {
		parts = append([]string{u.prefix}, parts...)
	}
	return path.Join(parts...)
}

func (u *Uploader) putFile(ctx context.Context, local, key string) error {
	data, err := os.ReadFile(local)
	if err != nil {
		return err
	}

	contentType := "application/json"
	if strings.HasSuffix(key, ".md") {
		contentType = "text/markdown"
	}

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &u.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", u.bucket, key, err)
	}
	return nil
}
