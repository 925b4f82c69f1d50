package export

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"google.golang.org/api/option"

	"ev-pipeline/internal/config"
)

// Publisher uploads objects to a bucket.
// Implementations: S3Publisher, GCSPublisher, AzurePublisher.
type Publisher interface {
	Upload(ctx context.Context, key string, body io.ReadSeeker) error
	// URL returns the canonical URI of key, e.g. s3://bucket/key.
	URL(key string) string
}

// Compile-time checks.
var (
	_ Publisher = (*S3Publisher)(nil)
	_ Publisher = (*GCSPublisher)(nil)
	_ Publisher = (*AzurePublisher)(nil)
)

// NewPublisher builds the publisher selected by cfg. It returns nil, nil
// when publishing is disabled.
func NewPublisher(ctx context.Context, cfg config.PublishConfig) (Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Target {
	case config.PublishNone:
		return nil, nil
	case config.PublishS3:
		return NewS3Publisher(cfg)
	case config.PublishGCS:
		var opts []option.ClientOption
		if cfg.GCSCredentialsFile != "" {
			opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, cfg.GCSCredentialsFile))
		}
		return NewGCSPublisher(ctx, cfg.Bucket, opts...)
	case config.PublishAzure:
		return NewAzurePublisher(cfg)
	}
	return nil, fmt.Errorf("unsupported publish target %q", cfg.Target)
}

// PublishPath uploads a report file, or every file under a report
// directory, below prefix. It returns the URI of the uploaded root.
func PublishPath(ctx context.Context, p Publisher, localPath, prefix string) (string, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", localPath, err)
	}
	rootKey := joinKey(prefix, filepath.Base(localPath))

	if !info.IsDir() {
		if err := uploadFile(ctx, p, localPath, rootKey); err != nil {
			return "", err
		}
		return p.URL(rootKey), nil
	}

	err = filepath.WalkDir(localPath, func(fpath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localPath, fpath)
		if err != nil {
			return err
		}
		return uploadFile(ctx, p, fpath, joinKey(rootKey, filepath.ToSlash(rel)))
	})
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", localPath, err)
	}
	return p.URL(rootKey), nil
}

func uploadFile(ctx context.Context, p Publisher, localPath, key string) error {
	f, err := os.Open(localPath) //nolint:gosec // path comes from the report writer
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck

	if err := p.Upload(ctx, key, f); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

func joinKey(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return path.Join(nonEmpty...)
}

// === S3 ===

// S3Publisher uploads to S3 or an S3-compatible store with static keys.
type S3Publisher struct {
	client *s3.Client
	bucket string
}

// NewS3Publisher creates an S3 publisher. A custom endpoint switches to
// path-style addressing.
func NewS3Publisher(cfg config.PublishConfig) (*S3Publisher, error) {
	if !cfg.HasS3Keys() {
		return nil, fmt.Errorf("S3 keys are required")
	}
	region := "us-east-1"
	if cfg.S3Region != nil {
		region = *cfg.S3Region
	}

	opts := s3.Options{
		Region:      region,
		Credentials: credentials.NewStaticCredentialsProvider(*cfg.S3KeyID, *cfg.S3Secret, ""),
	}
	if cfg.S3Endpoint != nil {
		endpoint := *cfg.S3Endpoint
		if !strings.Contains(endpoint, "://") {
			endpoint = "https://" + endpoint
		}
		opts.BaseEndpoint = aws.String(endpoint)
		opts.UsePathStyle = true
	}

	return &S3Publisher{client: s3.New(opts), bucket: cfg.Bucket}, nil
}

// Upload implements Publisher.
func (p *S3Publisher) Upload(ctx context.Context, key string, body io.ReadSeeker) error {
	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType(key)),
	})
	return err
}

// URL implements Publisher.
func (p *S3Publisher) URL(key string) string {
	return "s3://" + p.bucket + "/" + key
}

// === GCS ===

// GCSPublisher uploads to a Google Cloud Storage bucket.
type GCSPublisher struct {
	client *storage.Client
	bucket string
}

// NewGCSPublisher creates a GCS publisher. Without options the client uses
// application default credentials.
func NewGCSPublisher(ctx context.Context, bucket string, opts ...option.ClientOption) (*GCSPublisher, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSPublisher{client: client, bucket: bucket}, nil
}

// Upload implements Publisher.
func (p *GCSPublisher) Upload(ctx context.Context, key string, body io.ReadSeeker) error {
	w := p.client.Bucket(p.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType(key)
	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// URL implements Publisher.
func (p *GCSPublisher) URL(key string) string {
	return "gs://" + p.bucket + "/" + key
}

// Close releases the GCS client.
func (p *GCSPublisher) Close() error {
	return p.client.Close()
}

// === Azure ===

// AzurePublisher uploads to an Azure Blob Storage container.
type AzurePublisher struct {
	client    *azblob.Client
	container string
}

// NewAzurePublisher creates an Azure publisher from a connection string or
// an account name and key.
func NewAzurePublisher(cfg config.PublishConfig) (*AzurePublisher, error) {
	if cfg.AzureConnectionString != "" {
		client, err := azblob.NewClientFromConnectionString(cfg.AzureConnectionString, nil)
		if err != nil {
			return nil, fmt.Errorf("create Azure blob client: %w", err)
		}
		return &AzurePublisher{client: client, container: cfg.Bucket}, nil
	}

	cred, err := azblob.NewSharedKeyCredential(cfg.AzureAccountName, cfg.AzureAccountKey)
	if err != nil {
		return nil, fmt.Errorf("create shared key credential: %w", err)
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AzureAccountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create Azure blob client: %w", err)
	}
	return &AzurePublisher{client: client, container: cfg.Bucket}, nil
}

// Upload implements Publisher.
func (p *AzurePublisher) Upload(ctx context.Context, key string, body io.ReadSeeker) error {
	_, err := p.client.UploadStream(ctx, p.container, key, body, nil)
	return err
}

// URL implements Publisher.
func (p *AzurePublisher) URL(key string) string {
	return strings.TrimSuffix(p.client.URL(), "/") + "/" + p.container + "/" + key
}

func contentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".csv":
		return "text/csv"
	case ".parquet":
		return "application/vnd.apache.parquet"
	}
	return "application/octet-stream"
}
