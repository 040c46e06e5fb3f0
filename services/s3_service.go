package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"sharedrive/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type S3Config struct {
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// S3Service stores blobs in an S3-compatible bucket (AWS, MinIO). Uploads go
// through a presigned PUT so the body can be streamed without buffering.
type S3Service struct {
	client     *s3.Client
	presign    *s3.PresignClient
	bucket     string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewS3Service(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Service, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Service{
		client:     client,
		presign:    s3.NewPresignClient(client),
		bucket:     cfg.Bucket,
		httpClient: &http.Client{},
		logger:     logger,
	}, nil
}

func (s *S3Service) Put(ctx context.Context, name, contentType string, r io.Reader, size int64) (*models.BlobObject, error) {
	signed, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(name),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(15*time.Minute))
	if err != nil {
		return nil, fmt.Errorf("failed to presign upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, signed.Method, signed.URL, r)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.ContentLength = size
	for key, values := range signed.SignedHeader {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s to S3: %w", name, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("S3 upload of %s responded with status %s: %w", name, resp.Status, models.ErrUpstream)
	}

	s.logger.Debug("blob stored", "backend", "s3", "name", name, "bytes", size, "etag", resp.Header.Get("ETag"))
	return &models.BlobObject{
		BlobID: name,
		Name:   name,
		URL:    fmt.Sprintf("s3://%s/%s", s.bucket, name),
		Size:   size,
	}, nil
}

func (s *S3Service) SignURL(ctx context.Context, name string, ttl time.Duration) (string, error) {
	signed, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("failed to generate signed URL: %w", err)
	}
	return signed.URL, nil
}

func (s *S3Service) Delete(ctx context.Context, blobID, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil
		}
		return fmt.Errorf("failed to delete %s from S3: %w", name, err)
	}
	return nil
}
