package attach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/matheus3301/chatsync/internal/wire"
)

// S3Options locates the bucket attachments are stored in.
type S3Options struct {
	Region          string
	Bucket          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	Expires         time.Duration
}

// S3Resolver presigns GetObject urls for attachments stored under their
// unique file name.
type S3Resolver struct {
	presign *s3.PresignClient
	bucket  string
	expires time.Duration
}

// NewS3Client builds an S3 client from opts. Static credentials are used
// when given, otherwise the default credential chain.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	}), nil
}

// NewS3Resolver creates a resolver presigning against client. expires <= 0
// selects ten minutes, matching the cache's trust window.
func NewS3Resolver(client *s3.Client, bucket string, expires time.Duration) *S3Resolver {
	if expires <= 0 {
		expires = 10 * time.Minute
	}
	return &S3Resolver{
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
		expires: expires,
	}
}

// GetDownloadUrls presigns a url per file name. Names that fail to presign
// are left out of the result; an error is returned only if none succeed.
func (r *S3Resolver) GetDownloadUrls(ctx context.Context, fileNames []string) ([]wire.ResolvedFile, error) {
	out := make([]wire.ResolvedFile, 0, len(fileNames))
	var errs []error
	for _, name := range fileNames {
		req, err := r.presign.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(r.bucket),
			Key:    aws.String(name),
		}, s3.WithPresignExpires(r.expires))
		if err != nil {
			errs = append(errs, fmt.Errorf("presign %s: %w", name, err))
			continue
		}
		out = append(out, wire.ResolvedFile{OriginalName: name, UniqueFileName: name, URL: req.URL})
	}
	if len(out) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}
