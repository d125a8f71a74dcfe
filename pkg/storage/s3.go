package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

const (
	// MaxImageFileSize is the maximum allowed upload size for session images (5MB).
	MaxImageFileSize = 5 * 1024 * 1024
	// FolderBranding is the S3 prefix for session logo objects.
	FolderBranding = "branding"
	// FolderOptions is the S3 prefix for question option images.
	FolderOptions = "options"
)

// AllowedImageTypes maps accepted image MIME types to canonical extensions.
var AllowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// S3Config holds S3 client configuration.
type S3Config struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ImagesBucket         string
	PresignExpireMinutes int
}

// S3 stores branding logos and option images. The core treats object keys
// as opaque references; this client owns the actual bucket operations.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	cfg      S3Config
	logger   *zap.Logger
}

// NewS3 creates an S3 client using static credentials when configured,
// falling back to the default credential chain.
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)))
	} else if logger != nil {
		logger.Warn("S3 client using default credential chain")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	uploader := manager.NewUploader(client)
	return &S3{client: client, uploader: uploader, cfg: cfg, logger: logger}, nil
}

// ValidateImageType returns true if the content type is an allowed image type.
func ValidateImageType(contentType string) bool {
	_, ok := AllowedImageTypes[strings.ToLower(contentType)]
	return ok
}

// BrandingKey returns the object key for a session logo: branding/{session_id}{ext}.
func BrandingKey(sessionID, contentType string) string {
	return path.Join(FolderBranding, sessionID+AllowedImageTypes[strings.ToLower(contentType)])
}

// BrandingKeyExt returns the logo key for a session keeping an existing
// object's file extension. Used when a logo is copied rather than uploaded.
func BrandingKeyExt(sessionID, ext string) string {
	return path.Join(FolderBranding, sessionID+ext)
}

// OptionImageKey returns the object key for a question option image.
func OptionImageKey(questionID string, index int, contentType string) string {
	return path.Join(FolderOptions, questionID, fmt.Sprintf("%d%s", index, AllowedImageTypes[strings.ToLower(contentType)]))
}

// Upload streams a reader to the images bucket and returns the object key.
func (s *S3) Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.ImagesBucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	return key, nil
}

// PresignDownload returns a pre-signed GET URL for an object key.
func (s *S3) PresignDownload(ctx context.Context, key string) (string, error) {
	presignClient := s3.NewPresignClient(s.client)
	req, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.ImagesBucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.PresignExpire()
	})
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return req.URL, nil
}

// Copy duplicates an object within the images bucket. Sessions never share
// logo objects; duplication copies the bytes so either copy can be deleted
// independently.
func (s *S3) Copy(ctx context.Context, srcKey, dstKey string) error {
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.cfg.ImagesBucket),
		CopySource: aws.String(s.cfg.ImagesBucket + "/" + srcKey),
		Key:        aws.String(dstKey),
	})
	if err != nil {
		return fmt.Errorf("copy object: %w", err)
	}
	return nil
}

// Delete removes an object from the images bucket.
func (s *S3) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.ImagesBucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// PresignExpire returns the configured presign duration.
func (s *S3) PresignExpire() time.Duration {
	if s.cfg.PresignExpireMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(s.cfg.PresignExpireMinutes) * time.Minute
}
