package tundra

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds the configuration for an S3 datastore.
type S3Config struct {
	Endpoint     string
	Bucket       string
	Prefix       string
	AccessKey    string
	SecretKey    string
	Region       string
	UsePathStyle bool
}

// S3Datastore is the default Datastore binding: one object per key in an
// S3-compatible store, under an optional prefix.
type S3Datastore struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Datastore builds an S3 client from cfg. An empty Region defaults to
// us-east-1; a non-empty Endpoint points the client at an S3-compatible
// store (MinIO, Ceph).
func NewS3Datastore(ctx context.Context, cfg S3Config) (*S3Datastore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("tundra: s3 datastore: empty bucket name")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tundra: s3 datastore: load AWS config: %w", err)
	}

	opts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}

	return &S3Datastore{client: s3.NewFromConfig(awsCfg, opts), bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (d *S3Datastore) objectKey(key string) string {
	if d.prefix == "" {
		return key
	}
	return path.Join(d.prefix, key)
}

func (d *S3Datastore) Put(ctx context.Context, key string, blob []byte) error {
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.objectKey(key)),
		Body:   bytes.NewReader(blob),
	})
	if err != nil {
		return fmt.Errorf("tundra: s3 put %q: %w", key, err)
	}
	return nil
}

func (d *S3Datastore) Fetch(ctx context.Context, key string) ([]byte, error) {
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.objectKey(key)),
	})
	if err != nil {
		return nil, fmt.Errorf("tundra: s3 fetch %q: %w", key, err)
	}
	defer out.Body.Close()
	blob, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("tundra: s3 fetch %q: read body: %w", key, err)
	}
	return blob, nil
}
