// SPDX-License-Identifier: AGPL-3.0-or-later
package attachment

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/btouchard/mailrelay/internal/domain/models"
)

// S3Fetcher downloads attachments referenced by an "s3://bucket/key"
// storage_path, the enrichment variant spec.md §6 adds on top of the
// distilled fetch_mode set, grounded on the teacher's S3Provider
// (pkg/storage/s3.go) narrowed to read-only GetObject.
type S3Fetcher struct {
	client *s3.Client
}

type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
}

func NewS3Fetcher(ctx context.Context, cfg S3Config) (*S3Fetcher, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Fetcher{client: s3.NewFromConfig(awsCfg, s3Opts...)}, nil
}

// parseS3URL splits "s3://bucket/key/with/slashes" into bucket and key.
func parseS3URL(storagePath string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(storagePath, "s3://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid s3 storage_path: %s", storagePath)
	}
	return parts[0], parts[1], nil
}

func (f *S3Fetcher) Fetch(ctx context.Context, att models.Attachment) ([]byte, string, error) {
	bucket, key, err := parseS3URL(att.StoragePath)
	if err != nil {
		return nil, "", err
	}

	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", fmt.Errorf("s3 get object %s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read s3 object body %s/%s: %w", bucket, key, err)
	}
	return data, att.Filename, nil
}
