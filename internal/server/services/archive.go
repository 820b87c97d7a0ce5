package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/dmitrijs2005/clinicguard/internal/server/audit"
	sc "github.com/dmitrijs2005/clinicguard/internal/server/config"
	"github.com/dmitrijs2005/clinicguard/internal/server/models"
	"github.com/dmitrijs2005/clinicguard/internal/server/repositories/auditlogs"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		return c.PutObject(ctx, in, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// ErrArchiveDisabled is returned when no bucket is configured.
var ErrArchiveDisabled = errors.New("audit archive is not configured")

// ArchiveURLExpiry is how long the download link of an export stays valid.
const ArchiveURLExpiry = 15 * time.Minute

// ArchiveResult describes one uploaded export.
type ArchiveResult struct {
	Key     string `json:"key"`
	Entries int    `json:"entries"`
	URL     string `json:"url"`
}

// ArchiveService exports audit channels as JSON Lines objects.
type ArchiveService struct {
	audit    *audit.Service
	config   *sc.Config
	security audit.Sink
	now      func() time.Time
}

func NewArchiveService(a *audit.Service, cfg *sc.Config, security audit.Sink) *ArchiveService {
	return &ArchiveService{audit: a, config: cfg, security: security, now: time.Now}
}

// ArchiveKey builds the object key for an export taken at t.
func ArchiveKey(channel models.AuditChannel, t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("audit/%s/%04d/%02d/%02d/%v.jsonl", channel, t.Year(), t.Month(), t.Day(), uuid.New())
}

func (s *ArchiveService) client(ctx context.Context) (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(s.config.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.S3AccessKey,
			s.config.S3SecretKey,
			"",
		)))
	if err != nil {
		return nil, err
	}

	return newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if s.config.S3BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(s.config.S3BaseEndpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Export uploads the channel's entries, newest first, optionally narrowed to
// one level, and returns a presigned download link.
func (s *ArchiveService) Export(ctx context.Context, actor *models.Principal, channel models.AuditChannel, level *int) (*ArchiveResult, error) {
	if s.config.S3Bucket == "" {
		return nil, ErrArchiveDisabled
	}

	entries, err := s.audit.List(ctx, models.AuditFilter{Channel: channel, Level: level, Limit: auditlogs.MaxLimit})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return nil, fmt.Errorf("encode audit entry: %w", err)
		}
	}

	client, err := s.client(ctx)
	if err != nil {
		return nil, fmt.Errorf("s3 config: %w", err)
	}

	bucket := s.config.S3Bucket
	key := ArchiveKey(channel, s.now())

	if _, err := putObject(client, ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	}); err != nil {
		return nil, fmt.Errorf("upload %s: %w", key, err)
	}

	req, err := presignGetObject(newS3PresignClient(client), ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(ArchiveURLExpiry))
	if err != nil {
		return nil, fmt.Errorf("presign %s: %w", key, err)
	}

	s.security.Log(ctx, fmt.Sprintf("Audit channel %s archived to %s (%d entries) by %s", channel, key, len(entries), actorName(actor)), models.LevelInfo)

	return &ArchiveResult{Key: key, Entries: len(entries), URL: req.URL}, nil
}
