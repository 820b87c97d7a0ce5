package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/clinicguard/internal/common"
	"github.com/dmitrijs2005/clinicguard/internal/server/audit"
	"github.com/dmitrijs2005/clinicguard/internal/server/audit/audittest"
	sc "github.com/dmitrijs2005/clinicguard/internal/server/config"
	"github.com/dmitrijs2005/clinicguard/internal/server/models"
	"github.com/dmitrijs2005/clinicguard/internal/server/repositories/memrepo"
)

type fakeS3 struct {
	region   string
	endpoint string
	pathed   bool
	bucket   string
	key      string
	body     []byte
	expires  time.Duration
	putErr   error
}

// stubS3 swaps the AWS seams for the duration of the test.
func stubS3(t *testing.T, f *fakeS3) {
	t.Helper()
	origLoad, origNew, origPut := loadDefaultAWSConfig, newS3ClientFromConfig, putObject
	origPre, origGet := newS3PresignClient, presignGetObject
	t.Cleanup(func() {
		loadDefaultAWSConfig, newS3ClientFromConfig, putObject = origLoad, origNew, origPut
		newS3PresignClient, presignGetObject = origPre, origGet
	})

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			if err := fn(&lo); err != nil {
				t.Fatalf("load options fn error: %v", err)
			}
		}
		f.region = lo.Region
		return aws.Config{}, nil
	}
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		var opts s3.Options
		for _, fn := range optFns {
			fn(&opts)
		}
		if opts.BaseEndpoint != nil {
			f.endpoint = *opts.BaseEndpoint
		}
		f.pathed = opts.UsePathStyle
		return &s3.Client{}
	}
	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		if f.putErr != nil {
			return nil, f.putErr
		}
		f.bucket = aws.ToString(in.Bucket)
		f.key = aws.ToString(in.Key)
		b, err := io.ReadAll(in.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		f.body = b
		return &s3.PutObjectOutput{}, nil
	}
	newS3PresignClient = func(c *s3.Client) *s3.PresignClient { return &s3.PresignClient{} }
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		var po s3.PresignOptions
		for _, fn := range optFns {
			fn(&po)
		}
		f.expires = po.Expires
		return &v4.PresignedHTTPRequest{URL: "https://s3.local/" + aws.ToString(in.Key) + "?sig"}, nil
	}
}

func newArchiveFixture(t *testing.T, bucket string) (*ArchiveService, *memrepo.Store, *audittest.Recorder) {
	t.Helper()
	store := memrepo.New()
	rec := &audittest.Recorder{}
	cfg := &sc.Config{
		S3Region:       "eu-north-1",
		S3AccessKey:    "minio",
		S3SecretKey:    "minio123",
		S3Bucket:       bucket,
		S3BaseEndpoint: "http://127.0.0.1:9000",
	}
	svc := NewArchiveService(audit.NewService(store.AuditLogs(nil)), cfg, rec)
	svc.now = func() time.Time { return time.Date(2026, 3, 7, 23, 30, 0, 0, time.UTC) }
	return svc, store, rec
}

func seedAudit(t *testing.T, store *memrepo.Store) {
	t.Helper()
	repo := store.AuditLogs(nil)
	for i, e := range []models.AuditEntry{
		{ID: "1", Channel: models.ChannelSecurity, Level: models.LevelWarning, Message: "failed login"},
		{ID: "2", Channel: models.ChannelActivity, Level: models.LevelInfo, Message: "patient created"},
		{ID: "3", Channel: models.ChannelSecurity, Level: models.LevelError, Message: "account locked"},
	} {
		e.CreatedAt = time.Date(2026, 3, 7, 10, i, 0, 0, time.UTC)
		require.NoError(t, repo.Insert(context.Background(), &e))
	}
}

func TestArchiveService_Export(t *testing.T) {
	svc, store, rec := newArchiveFixture(t, "clinic-audit")
	seedAudit(t, store)
	f := &fakeS3{}
	stubS3(t, f)

	actor := &models.Principal{Email: "admin@clinic.test", Role: models.RoleAdmin}
	res, err := svc.Export(context.Background(), actor, models.ChannelSecurity, nil)
	require.NoError(t, err)

	assert.Equal(t, "eu-north-1", f.region)
	assert.Equal(t, "http://127.0.0.1:9000", f.endpoint)
	assert.True(t, f.pathed)
	assert.Equal(t, "clinic-audit", f.bucket)
	assert.Regexp(t, regexp.MustCompile(`^audit/security/2026/03/07/[0-9a-f-]{36}\.jsonl$`), f.key)
	assert.Equal(t, f.key, res.Key)
	assert.Equal(t, 2, res.Entries)
	assert.Equal(t, "https://s3.local/"+f.key+"?sig", res.URL)
	assert.Equal(t, ArchiveURLExpiry, f.expires)

	var messages []string
	scanner := bufio.NewScanner(bytes.NewReader(f.body))
	for scanner.Scan() {
		var e models.AuditEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		messages = append(messages, e.Message)
	}
	assert.Equal(t, []string{"account locked", "failed login"}, messages)

	e, ok := rec.Find("archived")
	require.True(t, ok)
	assert.Equal(t, models.LevelInfo, e.Level)
	assert.Contains(t, e.Message, "admin@clinic.test")
}

func TestArchiveService_ExportLevelFilter(t *testing.T) {
	svc, store, _ := newArchiveFixture(t, "clinic-audit")
	seedAudit(t, store)
	f := &fakeS3{}
	stubS3(t, f)

	level := models.LevelError
	res, err := svc.Export(context.Background(), nil, models.ChannelSecurity, &level)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Entries)
	assert.Contains(t, string(f.body), "account locked")
}

func TestArchiveService_Disabled(t *testing.T) {
	svc, _, rec := newArchiveFixture(t, "")
	_, err := svc.Export(context.Background(), nil, models.ChannelSecurity, nil)
	assert.ErrorIs(t, err, ErrArchiveDisabled)
	assert.Empty(t, rec.Entries())
}

func TestArchiveService_InvalidChannel(t *testing.T) {
	svc, _, _ := newArchiveFixture(t, "clinic-audit")
	stubS3(t, &fakeS3{})
	_, err := svc.Export(context.Background(), nil, models.AuditChannel("billing"), nil)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestArchiveService_Errors(t *testing.T) {
	t.Run("config load", func(t *testing.T) {
		svc, _, rec := newArchiveFixture(t, "clinic-audit")
		stubS3(t, &fakeS3{})
		loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
			return aws.Config{}, errors.New("load-fail")
		}
		_, err := svc.Export(context.Background(), nil, models.ChannelActivity, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "load-fail")
		assert.Empty(t, rec.Entries())
	})

	t.Run("upload", func(t *testing.T) {
		svc, _, rec := newArchiveFixture(t, "clinic-audit")
		stubS3(t, &fakeS3{putErr: errors.New("put-fail")})
		_, err := svc.Export(context.Background(), nil, models.ChannelActivity, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "put-fail")
		assert.Empty(t, rec.Entries())
	})

	t.Run("presign", func(t *testing.T) {
		svc, _, _ := newArchiveFixture(t, "clinic-audit")
		stubS3(t, &fakeS3{})
		presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
			return nil, errors.New("presign-fail")
		}
		_, err := svc.Export(context.Background(), nil, models.ChannelActivity, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "presign-fail")
	})
}

func TestArchiveKey(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	k1 := ArchiveKey(models.ChannelActivity, time.Date(2026, 1, 2, 1, 0, 0, 0, loc))
	k2 := ArchiveKey(models.ChannelActivity, time.Date(2026, 1, 2, 1, 0, 0, 0, loc))
	assert.Regexp(t, `^audit/activity/2026/01/01/`, k1)
	assert.NotEqual(t, k1, k2)
}
