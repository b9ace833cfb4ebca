package vault

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"guidesync/internal/config"
	"guidesync/internal/guide"
)

// S3Vault stores attachments in an S3 bucket under
// <prefix>/content/<checksum>. Uploads go through the transfer manager so
// large document scans are sent multipart without buffering in memory.
type S3Vault struct {
	name     string
	bucket   string
	prefix   string
	client   *s3.Client
	uploader *manager.Uploader
}

// NewS3Vault creates an S3 vault from config. When static credentials are
// present in the config they are used; otherwise the ambient AWS
// credential chain applies.
func NewS3Vault(cfg config.VaultConfig) (*S3Vault, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 vault requires s3_bucket to be set")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	return &S3Vault{
		name:     cfg.Name,
		bucket:   cfg.S3Bucket,
		prefix:   cfg.S3Prefix,
		client:   client,
		uploader: manager.NewUploader(client),
	}, nil
}

// key returns the object key for a checksum.
func (v *S3Vault) key(checksum string) string {
	if v.prefix == "" {
		return "content/" + checksum
	}
	return v.prefix + "/content/" + checksum
}

// PutAttachment stores content identified by its checksum. Idempotent: an
// existing object with the same key is left untouched, since content is
// immutable under its checksum.
func (v *S3Vault) PutAttachment(checksum string, r io.Reader, size int64) error {
	ctx := context.Background()
	key := v.key(checksum)

	_, err := v.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		// Already uploaded; drain the reader to keep caller semantics.
		if _, err := io.Copy(io.Discard, r); err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		return nil
	}
	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		return fmt.Errorf("checking for existing object %s: %w", key, err)
	}

	_, err = v.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(v.bucket),
		Key:           aws.String(key),
		Body:          r,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("uploading object %s: %w", key, err)
	}
	return nil
}

// GetAttachment retrieves content by checksum and writes it to w.
func (v *S3Vault) GetAttachment(checksum string, w io.Writer) error {
	ctx := context.Background()
	key := v.key(checksum)

	resp, err := v.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("getting object %s: %w", key, err)
	}
	defer resp.Body.Close()

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	return nil
}

// ValidateSetup verifies the bucket is reachable with the configured
// credentials.
func (v *S3Vault) ValidateSetup() error {
	_, err := v.client.HeadBucket(context.Background(), &s3.HeadBucketInput{
		Bucket: aws.String(v.bucket),
	})
	if err != nil {
		return fmt.Errorf("bucket %s not accessible: %w", v.bucket, err)
	}
	return nil
}

// Compile-time check that S3Vault implements guide.AttachmentVault
var _ guide.AttachmentVault = (*S3Vault)(nil)
