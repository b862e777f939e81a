// Package staging stores raw scrape output as CSV objects in S3 before it
// is ingested into the warehouse. Objects live under dated prefixes, one
// object per site per run, so a load can replay everything a day produced.
package staging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// api is the slice of the S3 client the bucket needs.
type api interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type Bucket struct {
	client api
	bucket string
}

// New builds a bucket over the default AWS credential chain.
func New(ctx context.Context, bucket, region string) (*Bucket, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("staging: unable to load AWS config in New: %w", err)
	}
	return &Bucket{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

// NewWithStaticCredentials builds a bucket against a custom endpoint with
// fixed credentials, for local S3 stand-ins.
func NewWithStaticCredentials(ctx context.Context, bucket, region, endpoint, accessKey, secretKey string) (*Bucket, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("staging: unable to load AWS config in NewWithStaticCredentials: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
	return &Bucket{client: client, bucket: bucket}, nil
}

// DatedPrefix is the object prefix for one site on one day.
func DatedPrefix(site string, t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%02d/", site, t.Year(), int(t.Month()), t.Day())
}

// Upload stores one CSV payload under the site's dated prefix and returns the
// object key. The random suffix keeps reruns on the same day from clobbering
// each other.
func (b *Bucket) Upload(ctx context.Context, site string, t time.Time, data []byte) (string, error) {
	key := DatedPrefix(site, t) + uuid.NewString() + ".csv"
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return "", fmt.Errorf("staging: unable to upload s3://%s/%s in Upload: %w", b.bucket, key, err)
	}
	return key, nil
}

// List returns the keys of every object under a prefix.
func (b *Bucket) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var token *string
	for {
		out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("staging: unable to list s3://%s/%s in List: %w", b.bucket, prefix, err)
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	return keys, nil
}

// Fetch downloads one object.
func (b *Bucket) Fetch(ctx context.Context, key string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("staging: unable to fetch s3://%s/%s in Fetch: %w", b.bucket, key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("staging: unable to read s3://%s/%s in Fetch: %w", b.bucket, key, err)
	}
	return data, nil
}

// FetchPrefix downloads every object under a prefix, in key order.
func (b *Bucket) FetchPrefix(ctx context.Context, prefix string) ([][]byte, error) {
	keys, err := b.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	payloads := make([][]byte, 0, len(keys))
	for _, key := range keys {
		data, err := b.Fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, data)
	}
	return payloads, nil
}
