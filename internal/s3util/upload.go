package s3util

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/boxtvstar/ai-split-hd/internal/metrics"
)

// projectTag is the URL-encoded object tagging string for cost allocation.
const projectTag = "Project=ai-split-hd"

// maxSourceBytes caps DownloadSource so a wrong key cannot exhaust memory.
const maxSourceBytes = 64 << 20

// ObjectAPI is the subset of *s3.Client used here.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Presigner is the subset of *s3.PresignClient used here.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// ArchiveKey joins prefix, the session ID, and the archive file name.
func ArchiveKey(prefix, sessionID, name string) string {
	if sessionID == "" {
		return path.Join(prefix, name)
	}
	return path.Join(prefix, sessionID, name)
}

// UploadArchive stores a zip archive under key.
func UploadArchive(ctx context.Context, client ObjectAPI, bucket, key string, data []byte) error {
	log.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Int("size", len(data)).
		Msg("Uploading archive to S3")

	start := time.Now()
	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/zip"),
		Tagging:       aws.String(projectTag),
	})
	if err != nil {
		return fmt.Errorf("upload archive to S3: %w", err)
	}

	metrics.New("AiSplitHD").
		Dimension("Operation", "s3_upload").
		Metric("S3UploadMs", float64(time.Since(start).Milliseconds()), metrics.UnitMilliseconds).
		Metric("S3UploadBytes", float64(len(data)), metrics.UnitBytes).
		Flush()

	log.Info().Str("bucket", bucket).Str("key", key).Msg("Archive uploaded to S3")
	return nil
}

// DownloadSource reads an object fully into memory.
func DownloadSource(ctx context.Context, client ObjectAPI, bucket, key string) ([]byte, error) {
	log.Debug().Str("bucket", bucket).Str("key", key).Msg("Downloading source from S3")

	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("S3 GetObject: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(io.LimitReader(result.Body, maxSourceBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read S3 object: %w", err)
	}
	if len(data) > maxSourceBytes {
		return nil, fmt.Errorf("S3 object %s exceeds %d bytes", key, maxSourceBytes)
	}
	return data, nil
}

// GeneratePresignedURL creates a pre-signed GET URL for an object.
func GeneratePresignedURL(ctx context.Context, presigner Presigner, bucket, key string, expiry time.Duration) (string, error) {
	result, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("presign GetObject: %w", err)
	}
	return result.URL, nil
}
