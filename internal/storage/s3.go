package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	gonanoid "github.com/matoous/go-nanoid/v2"

	appconfig "github.com/lemonslut/that-news-thing-again/internal/config"
	"github.com/lemonslut/that-news-thing-again/pkg/trend"
)

func NewS3Client(ctx context.Context, c appconfig.S3) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(c.Region),
	}
	if c.Endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(c.Endpoint))
	}
	if c.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			c.AccessKey,
			c.SecretKey,
			"",
		)))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return client, nil
}

// putter is the slice of the S3 API the archiver uses.
type putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// SnapshotArchiver writes expiring trend snapshots to a bucket as JSON lines.
type SnapshotArchiver struct {
	client putter
	bucket string
	prefix string
}

var _ trend.Archiver = (*SnapshotArchiver)(nil)

func NewSnapshotArchiver(client *s3.Client, bucket string) *SnapshotArchiver {
	return newSnapshotArchiver(client, bucket)
}

func newSnapshotArchiver(client putter, bucket string) *SnapshotArchiver {
	return &SnapshotArchiver{client: client, bucket: bucket, prefix: "trend-snapshots"}
}

// archivedSnapshot is one line of an archive file.
type archivedSnapshot struct {
	Entity       string    `json:"entity"`
	PeriodType   string    `json:"period_type"`
	PeriodStart  time.Time `json:"period_start"`
	Count        int       `json:"article_count"`
	Rank         int       `json:"rank"`
	PreviousRank *int      `json:"previous_rank"`
	Velocity     float64   `json:"velocity"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ArchiveSnapshots uploads rows and returns the object key. An empty batch
// uploads nothing.
func (a *SnapshotArchiver) ArchiveSnapshots(ctx context.Context, cutoff time.Time, rows []trend.Snapshot) (string, error) {
	if len(rows) == 0 {
		return "", nil
	}

	body, err := encodeSnapshots(rows)
	if err != nil {
		return "", err
	}

	id, err := gonanoid.New()
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("%s/%s-%s.jsonl", a.prefix, cutoff.UTC().Format("20060102T150405Z"), id)

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload archive to S3: %w", err)
	}

	return key, nil
}

func encodeSnapshots(rows []trend.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeSnapshots(&buf, rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeSnapshots(w io.Writer, rows []trend.Snapshot) error {
	enc := json.NewEncoder(w)
	for _, r := range rows {
		line := archivedSnapshot{
			Entity:       r.Entity.String(),
			PeriodType:   r.PeriodType.String(),
			PeriodStart:  r.PeriodStart.UTC(),
			Count:        r.Count,
			Rank:         r.Rank,
			PreviousRank: r.PreviousRank,
			Velocity:     r.Velocity,
			CreatedAt:    r.CreatedAt.UTC(),
			UpdatedAt:    r.UpdatedAt.UTC(),
		}
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("failed to encode snapshot %s: %w", r.Entity, err)
		}
	}
	return nil
}
