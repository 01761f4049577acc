// Package archive keeps a durable local copy of every completed verification
// record, optionally mirrored to S3-compatible storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/verigate/verigate/internal/model"
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

// Config holds archive configuration. Dir is required; S3 is optional.
type Config struct {
	Dir string
	S3  S3Config
}

// Writer archives verification records as JSON files. The local write is the
// one that counts for durability; the S3 mirror is best effort.
type Writer struct {
	cfg    Config
	client s3Client
	logger *slog.Logger
}

func NewWriter(cfg Config, logger *slog.Logger) *Writer {
	w := &Writer{cfg: cfg, logger: logger}
	if cfg.S3.Bucket != "" && cfg.S3.AccessKey != "" && cfg.S3.SecretKey != "" {
		w.client = newS3Client(cfg.S3)
	}
	return w
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Write stores the record under the archive directory and mirrors it to S3
// when configured. It returns the local file path.
func (w *Writer) Write(ctx context.Context, rec *model.VerificationRecord) (string, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}

	if err := os.MkdirAll(w.cfg.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	// Subject ids are validated to [A-Za-z0-9_-] before a session exists, so
	// the name is safe to use in a path.
	name := fmt.Sprintf("record_%s_%s.json",
		rec.CompletedAt.UTC().Format("2006-01-02T15-04-05"), rec.SubjectID)
	path := filepath.Join(w.cfg.Dir, name)

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write archive file: %w", err)
	}

	if w.client != nil {
		_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(w.cfg.S3.Bucket),
			Key:         aws.String("records/" + name),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/json"),
		})
		if err != nil {
			w.logger.Warn("s3 mirror failed, local copy retained",
				"record_id", rec.ID, "error", err)
		}
	}

	return path, nil
}
