package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/sevendev/crosspost/internal/domain/publish/entity"
)

// S3Config holds S3/MinIO configuration
type S3Config struct {
	Endpoint        string // e.g., "http://localhost:9000" for MinIO
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Region          string
}

// Metadata keys written by the transcode pipeline on every ingested object.
const (
	metaNSFWScore = "nsfw-score"
	metaMediaType = "media-type"
)

// MediaStore reads media object metadata from S3-compatible storage
type MediaStore struct {
	client *s3.Client
	bucket string
}

// NewMediaStore creates a new S3 media metadata client
func NewMediaStore(cfg S3Config) *MediaStore {
	client := s3.New(s3.Options{
		Region:       cfg.Region,
		BaseEndpoint: aws.String(cfg.Endpoint),
		Credentials: credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
		UsePathStyle: true, // Required for MinIO
	})

	return &MediaStore{client: client, bucket: cfg.Bucket}
}

// Inspect returns the NSFW score and media kind recorded on the referenced
// object. A missing object or missing metadata reports found=false rather
// than an error so policy checks degrade to a warning.
func (s *MediaStore) Inspect(ctx context.Context, mediaRef string) (float64, entity.MediaKind, bool, error) {
	key := objectKey(mediaRef)
	if key == "" {
		return 0, "", false, nil
	}

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey") {
			return 0, "", false, nil
		}
		return 0, "", false, fmt.Errorf("heading media object %s: %w", key, err)
	}

	scoreRaw, ok := out.Metadata[metaNSFWScore]
	if !ok {
		return 0, "", false, nil
	}
	score, err := strconv.ParseFloat(scoreRaw, 64)
	if err != nil {
		return 0, "", false, fmt.Errorf("parsing nsfw score %q on %s: %w", scoreRaw, key, err)
	}

	kind := entity.MediaKindImage
	if out.Metadata[metaMediaType] == string(entity.MediaKindVideo) {
		kind = entity.MediaKindVideo
	}
	return score, kind, true, nil
}

// objectKey extracts the bucket-relative key from a media reference, which
// may be a bare key or a full URL
func objectKey(mediaRef string) string {
	if !strings.Contains(mediaRef, "://") {
		return strings.TrimPrefix(mediaRef, "/")
	}
	u, err := url.Parse(mediaRef)
	if err != nil {
		return ""
	}
	parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
	if len(parts) == 2 {
		// Path-style URL: first segment is the bucket.
		return parts[1]
	}
	return parts[0]
}
