// Package storage reads job sources. It provides an S3-compatible object
// store service plus a gateway that is polymorphic over the three source
// variants a job can reference: a local folder, an object-store session, or
// a remote drive.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.uber.org/fx"

	"github.com/veridoc-ai/veridoc/internal/config"
	"github.com/veridoc-ai/veridoc/pkg/logger"
)

var Module = fx.Module("storage",
	fx.Provide(NewService),
	fx.Provide(NewCredentialStore),
	fx.Provide(NewGateway),
)

// SidecarFilename is the per-session JSON file mapping opaque object names
// back to the user-supplied originals.
const SidecarFilename = ".filenames.json"

var (
	nonFilenameChars    = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
	repeatedUnderscores = regexp.MustCompile(`_{2,}`)
)

// Service provides S3-compatible object storage operations
type Service struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	log           *slog.Logger
	bucket        string
}

// UploadOptions configures an upload operation
type UploadOptions struct {
	ContentType        string
	ContentDisposition string
	Metadata           map[string]string
}

// UploadResult contains information about an uploaded object
type UploadResult struct {
	Key         string
	Bucket      string
	ETag        string
	Size        int64
	ContentType string
	StorageURL  string
}

// ObjectInfo describes one listed object
type ObjectInfo struct {
	Key  string
	Size int64
}

// NewService creates a new storage service
func NewService(cfg *config.Config, log *slog.Logger) (*Service, error) {
	scoped := log.With(logger.Scope("storage"))

	if !cfg.Storage.IsConfigured() {
		scoped.Warn("object storage disabled - no configuration provided")
		return &Service{log: scoped, bucket: cfg.Storage.Bucket}, nil
	}

	endpoint := endpointURL(cfg.Storage)

	// Custom endpoint resolver for MinIO
	customResolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               endpoint,
				HostnameImmutable: true,
				SigningRegion:     cfg.Storage.Region,
			}, nil
		},
	)

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Storage.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.Storage.AccessKeyID,
			cfg.Storage.SecretAccessKey,
			"",
		)),
		awsconfig.WithEndpointResolverWithOptions(customResolver),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Path-style addressing is required for MinIO
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	scoped.Info("object storage initialized",
		slog.String("endpoint", endpoint),
		slog.String("bucket", cfg.Storage.Bucket),
	)

	return &Service{
		client:        client,
		presignClient: s3.NewPresignClient(client),
		log:           scoped,
		bucket:        cfg.Storage.Bucket,
	}, nil
}

func endpointURL(c config.StorageConfig) string {
	if strings.Contains(c.Endpoint, "://") {
		return c.Endpoint
	}
	scheme := "http"
	if c.UseSSL {
		scheme = "https"
	}
	return scheme + "://" + c.Endpoint
}

// Enabled returns true if the storage service is properly configured
func (s *Service) Enabled() bool {
	return s.client != nil
}

// Upload uploads data to the specified key
func (s *Service) Upload(ctx context.Context, key string, data io.Reader, size int64, opts UploadOptions) (*UploadResult, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("storage service not enabled")
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          data,
		ContentLength: aws.Int64(size),
	}

	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if opts.ContentDisposition != "" {
		input.ContentDisposition = aws.String(opts.ContentDisposition)
	}
	if len(opts.Metadata) > 0 {
		input.Metadata = opts.Metadata
	}

	result, err := s.client.PutObject(ctx, input)
	if err != nil {
		s.log.Error("failed to upload object",
			slog.String("key", key),
			logger.Error(err),
		)
		return nil, fmt.Errorf("upload failed: %w", err)
	}

	etag := ""
	if result.ETag != nil {
		etag = strings.Trim(*result.ETag, "\"")
	}

	s.log.Debug("object uploaded",
		slog.String("key", key),
		slog.String("bucket", s.bucket),
		slog.Int64("size", size),
	)

	return &UploadResult{
		Key:         key,
		Bucket:      s.bucket,
		ETag:        etag,
		Size:        size,
		ContentType: opts.ContentType,
		StorageURL:  fmt.Sprintf("%s/%s", s.bucket, key),
	}, nil
}

// Download retrieves an object from storage
func (s *Service) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("storage service not enabled")
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}

	return result.Body, nil
}

// DownloadBytes retrieves an object and reads it fully
func (s *Service) DownloadBytes(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// ListObjects streams every object under the prefix to fn. Listing is
// paginated; fn returning an error stops the walk.
func (s *Service) ListObjects(ctx context.Context, prefix string, fn func(ObjectInfo) error) error {
	if !s.Enabled() {
		return fmt.Errorf("storage service not enabled")
	}

	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return fmt.Errorf("list objects failed: %w", err)
		}

		for _, obj := range out.Contents {
			info := ObjectInfo{Key: aws.ToString(obj.Key)}
			if obj.Size != nil {
				info.Size = *obj.Size
			}
			if err := fn(info); err != nil {
				return err
			}
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			return nil
		}
		token = out.NextContinuationToken
	}
}

// StatObject returns the size of an object
func (s *Service) StatObject(ctx context.Context, key string) (int64, error) {
	if !s.Enabled() {
		return 0, fmt.Errorf("storage service not enabled")
	}

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("head object failed: %w", err)
	}

	return aws.ToInt64(out.ContentLength), nil
}

// Delete removes an object from storage
func (s *Service) Delete(ctx context.Context, key string) error {
	if !s.Enabled() {
		return fmt.Errorf("storage service not enabled")
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		s.log.Error("failed to delete object",
			slog.String("key", key),
			logger.Error(err),
		)
		return fmt.Errorf("delete failed: %w", err)
	}

	s.log.Debug("object deleted", slog.String("key", key))
	return nil
}

// Exists checks if an object exists in storage
func (s *Service) Exists(ctx context.Context, key string) (bool, error) {
	if !s.Enabled() {
		return false, fmt.Errorf("storage service not enabled")
	}

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("head object failed: %w", err)
	}

	return true, nil
}

// IsNotFound reports whether err is an S3 missing-object error
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "NotFound") ||
		strings.Contains(msg, "NoSuchKey") ||
		strings.Contains(msg, "404")
}

// GenerateObjectKey creates an opaque storage key for an uploaded file.
// Format: {sessionID}/{uuid}{ext}. The original name is recorded in the
// session's .filenames.json sidecar, not in the key.
func GenerateObjectKey(sessionID, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return fmt.Sprintf("%s/%s%s", sessionID, uuid.New().String(), ext)
}

// SanitizeFilename cleans a filename for use in headers and export names
func SanitizeFilename(filename string) string {
	if filename == "" {
		return "unnamed"
	}

	sanitized := nonFilenameChars.ReplaceAllString(filename, "_")
	sanitized = repeatedUnderscores.ReplaceAllString(sanitized, "_")
	sanitized = strings.Trim(sanitized, "_")
	sanitized = strings.ToLower(sanitized)

	if len(sanitized) > 200 {
		sanitized = sanitized[:200]
	}
	if sanitized == "" {
		return "unnamed"
	}
	return sanitized
}

// GetSignedDownloadURLOptions configures a signed download URL
type GetSignedDownloadURLOptions struct {
	ExpiresIn                  time.Duration
	ResponseContentDisposition string
}

// GetSignedDownloadURL generates a presigned URL for downloading an object
func (s *Service) GetSignedDownloadURL(ctx context.Context, key string, opts GetSignedDownloadURLOptions) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("storage service not enabled")
	}

	if opts.ExpiresIn == 0 {
		opts.ExpiresIn = time.Hour
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if opts.ResponseContentDisposition != "" {
		input.ResponseContentDisposition = aws.String(opts.ResponseContentDisposition)
	}

	presignedReq, err := s.presignClient.PresignGetObject(ctx, input, func(po *s3.PresignOptions) {
		po.Expires = opts.ExpiresIn
	})
	if err != nil {
		s.log.Error("failed to generate presigned URL",
			slog.String("key", key),
			logger.Error(err),
		)
		return "", fmt.Errorf("presign failed: %w", err)
	}

	return presignedReq.URL, nil
}
