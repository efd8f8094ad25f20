// Package store pushes completed separation results to an S3-compatible
// object store so other tools can pick them up. The playback engine never
// reads from it.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"stemsplit/config"
	"stemsplit/separation"
)

// Store wraps a MinIO client bound to one bucket.
type Store struct {
	log    *slog.Logger
	client *minio.Client
	bucket string
}

// New connects to the object store and ensures the bucket exists.
func New(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &Store{
		log:    slog.With("component", "store"),
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// PushResult uploads every stem file of a completed separation plus an
// analysis document under results/<job id>/.
func (s *Store) PushResult(ctx context.Context, res *separation.Result) error {
	for _, stem := range res.Stems {
		object := fmt.Sprintf("results/%s/%s", res.JobID, filepath.Base(stem.Path))
		_, err := s.client.FPutObject(ctx, s.bucket, object, stem.Path, minio.PutObjectOptions{
			ContentType: contentType(stem.Path),
		})
		if err != nil {
			return fmt.Errorf("upload %s: %w", object, err)
		}
		s.log.Debug("stem uploaded", slog.String("object", object))
	}

	doc, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}
	object := fmt.Sprintf("results/%s/analysis.json", res.JobID)
	_, err = s.client.PutObject(ctx, s.bucket, object,
		bytes.NewReader(doc), int64(len(doc)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("upload %s: %w", object, err)
	}

	s.log.Info("result pushed",
		slog.String("job", res.JobID), slog.Int("stems", len(res.Stems)))
	return nil
}

func contentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".flac":
		return "audio/flac"
	default:
		return "application/octet-stream"
	}
}
