package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/soham2yu/Bookscan-AI-Frontend/config"
	"github.com/soham2yu/Bookscan-AI-Frontend/model"
)

// MinioService keeps finished PDFs until the user downloads or resets them.
type MinioService struct {
	client *minio.Client
	bucket string
	config *config.MinioConfig
}

func NewMinioService(cfg *config.MinioConfig) (*MinioService, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinioService{
		client: client,
		bucket: cfg.Bucket,
		config: cfg,
	}, nil
}

// ResultObjectName is where the PDF of a conversion is stored.
func ResultObjectName(username, conversionID string) string {
	return fmt.Sprintf("%s/%s/%s", username, conversionID, model.OutputFilename)
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *MinioService) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.config.Region})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// SaveResult stores a conversion result under objectName.
func (s *MinioService) SaveResult(ctx context.Context, objectName string, result *model.ConversionResult) error {
	return s.uploadFile(ctx, objectName, bytes.NewReader(result.Payload), int64(len(result.Payload)), result.ContentType)
}

func (s *MinioService) uploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType:        contentType,
		ContentDisposition: contentDisposition(),
	})
	if err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}

	return nil
}

// DownloadURL returns a presigned URL that saves the object as bookscan_output.pdf.
func (s *MinioService) DownloadURL(ctx context.Context, objectName string) (string, error) {
	expiry := time.Duration(s.config.ExpireDays) * 24 * time.Hour
	params := url.Values{}
	params.Set("response-content-disposition", contentDisposition())

	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, expiry, params)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return u.String(), nil
}

// DeleteResult deletes a stored result
func (s *MinioService) DeleteResult(ctx context.Context, objectName string) error {
	err := s.client.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}

func contentDisposition() string {
	return fmt.Sprintf("attachment; filename=%q", model.OutputFilename)
}
