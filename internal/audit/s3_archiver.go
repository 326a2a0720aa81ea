package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/models"
)

// HistoryArchiver uploads allocation-history snapshots to object storage.
type HistoryArchiver interface {
	ArchiveHistory(ctx context.Context, jobID string, entries []models.AllocationHistory) (string, error)
}

// S3Archiver writes history snapshots to paths like:
//
//	s3://<bucket>/<prefix>/allocation-history/YYYY/MM/DD/<jobID>.json
type S3Archiver struct {
	bucket   string
	prefix   string
	uploader *manager.Uploader
}

// NewS3Archiver creates an S3Archiver. Region and credentials come from the
// environment (AWS_REGION, AWS_PROFILE, AWS_ACCESS_KEY_ID/SECRET etc.).
func NewS3Archiver(ctx context.Context, bucket, prefix string) (*S3Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Archiver{
		bucket:   bucket,
		prefix:   prefix,
		uploader: manager.NewUploader(client),
	}, nil
}

// ArchiveHistory uploads the entries as one JSON document and returns the
// object key.
func (s *S3Archiver) ArchiveHistory(ctx context.Context, jobID string, entries []models.AllocationHistory) (string, error) {
	if jobID == "" {
		return "", fmt.Errorf("job id required")
	}
	doc := struct {
		JobID      string                     `json:"jobId"`
		ArchivedAt time.Time                  `json:"archivedAt"`
		Entries    []models.AllocationHistory `json:"entries"`
	}{
		JobID:      jobID,
		ArchivedAt: time.Now().UTC(),
		Entries:    entries,
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal history snapshot: %w", err)
	}

	ts := doc.ArchivedAt
	year, month, day := ts.Date()
	objectKey := path.Join(s.prefix, "allocation-history",
		fmt.Sprintf("%04d", year),
		fmt.Sprintf("%02d", int(month)),
		fmt.Sprintf("%02d", day),
		fmt.Sprintf("%s.json", jobID),
	)

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(objectKey),
		Body:                 bytes.NewReader(body),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload failed: %w", err)
	}
	return objectKey, nil
}
