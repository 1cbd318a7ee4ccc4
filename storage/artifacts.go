package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"telegram-audio-bot/utils"
)

// ErrArtifactNotFound marks a fetch of an artifact that no longer
// exists, usually because a duplicate delivery already sent and
// deleted it.
var ErrArtifactNotFound = errors.New("artifact not found")

// ArtifactConfig carries the object store settings. Endpoint is
// optional and points at an S3-compatible service (R2, MinIO) when set.
type ArtifactConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// ArtifactStore stages downloaded audio in an object store until the
// delivery stage sends it. Key existence under a URL-scoped prefix
// doubles as the "already downloaded" idempotency check.
type ArtifactStore struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	logger   *utils.Logger
}

func NewArtifactStore(ctx context.Context, cfg ArtifactConfig, logger *utils.Logger) (*ArtifactStore, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &ArtifactStore{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		logger:   logger,
	}, nil
}

// URLHash gives the stable URL component of artifact keys.
func URLHash(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:8])
}

// ArtifactPrefix is the listing prefix for one (chat, url) pair.
func ArtifactPrefix(chatID int64, url string) string {
	return fmt.Sprintf("%d/%s/", chatID, URLHash(url))
}

// ArtifactKey lays out a full key: {chat_id}/{hash(url)}/{id}.{ext}.
func ArtifactKey(chatID int64, url, extractorID, ext string) string {
	return fmt.Sprintf("%s%s.%s", ArtifactPrefix(chatID, url), extractorID, ext)
}

// List returns the keys under prefix. An empty result means the URL
// has not been downloaded for this chat yet.
func (s *ArtifactStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list artifacts under %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// Put stores artifact bytes with artist/title carried as object
// metadata for the delivery stage.
func (s *ArtifactStore) Put(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		Body:     bytes.NewReader(data),
		Metadata: metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to store artifact %s: %w", key, err)
	}

	s.logger.WithComponent("artifacts").
		WithField("key", key).
		WithField("size", len(data)).
		Debug("Artifact stored")
	return nil
}

// Get fetches artifact bytes and metadata. Returns ErrArtifactNotFound
// when the key is gone.
func (s *ArtifactStore) Get(ctx context.Context, key string) ([]byte, map[string]string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, key)
		}
		return nil, nil, fmt.Errorf("failed to fetch artifact %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read artifact %s: %w", key, err)
	}
	return data, out.Metadata, nil
}

// Delete frees a sent artifact. Safe to call twice; S3 deletes are
// idempotent.
func (s *ArtifactStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete artifact %s: %w", key, err)
	}
	return nil
}
