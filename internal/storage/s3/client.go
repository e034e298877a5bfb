// Package s3 adapts the AWS S3 API to the object-storage blob store.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/JakeFAU/site-tracker/internal/storage"
	"github.com/JakeFAU/site-tracker/internal/store"
)

// API is the subset of *s3.Client used here.
type API interface {
	s3.ListObjectsV2APIClient
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Presigner is the subset of *s3.PresignClient used here.
type Presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Config selects the bucket and, for S3-compatible services, the endpoint.
type Config struct {
	Bucket       string
	Endpoint     string
	UsePathStyle bool
}

// Client implements objectstore.Client for S3.
type Client struct {
	api     API
	presign Presigner
	bucket  string
}

// New builds a client from an AWS config.
func New(awsCfg aws.Config, cfg Config) (*Client, error) {
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewWithAPI(client, s3.NewPresignClient(client), cfg.Bucket)
}

// NewWithAPI constructs a client from existing API implementations (primarily for testing).
func NewWithAPI(api API, presign Presigner, bucket string) (*Client, error) {
	if api == nil {
		return nil, errors.New("s3 api is required")
	}
	if bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	return &Client{api: api, presign: presign, bucket: bucket}, nil
}

// Tag returns the s3 backend tag.
func (c *Client) Tag() string {
	return storage.TagS3
}

// PutObject creates key only if it does not already exist.
func (c *Client) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
		IfNoneMatch:   aws.String("*"),
	})
	if err != nil {
		return classifyWrite("blob put", fmt.Errorf("put object %s: %w", key, err))
	}
	return nil
}

// GetObject downloads key.
func (c *Client) GetObject(ctx context.Context, key string) ([]byte, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify("blob get", fmt.Errorf("get object %s: %w", key, err))
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, store.E(store.KindConnectivity, "blob get", storage.TagS3, fmt.Errorf("read object %s: %w", key, err))
	}
	return data, nil
}

// HeadObject checks that key exists.
func (c *Client) HeadObject(ctx context.Context, key string) error {
	_, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classify("blob head", fmt.Errorf("head object %s: %w", key, err))
	}
	return nil
}

// DeleteObject removes key.
func (c *Client) DeleteObject(ctx context.Context, key string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classify("blob delete", fmt.Errorf("delete object %s: %w", key, err))
	}
	return nil
}

// ListObjects pages through ListObjectsV2.
func (c *Client) ListObjects(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		paginator := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
			Bucket: aws.String(c.bucket),
			Prefix: aws.String(prefix),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield("", classify("blob list", fmt.Errorf("list objects %s: %w", prefix, err)))
				return
			}
			for _, obj := range page.Contents {
				if !yield(aws.ToString(obj.Key), nil) {
					return
				}
			}
		}
	}
}

// PresignGet returns a SigV4 presigned GET URL.
func (c *Client) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if c.presign == nil {
		return "", store.Errorf(store.KindUnsupported, "blob presign", storage.TagS3, "presigning is not configured")
	}
	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", classify("blob presign", fmt.Errorf("presign %s: %w", key, err))
	}
	return req.URL, nil
}

// Ping checks the bucket with HeadBucket.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return classify("blob ping", fmt.Errorf("head bucket %s: %w", c.bucket, err))
	}
	return nil
}

// codeKinds maps S3 error codes. A missing bucket is a deployment problem,
// not a missing object, so NoSuchBucket is connectivity.
var codeKinds = map[string]store.ErrorKind{
	"NoSuchKey":                  store.KindNotFound,
	"NotFound":                   store.KindNotFound,
	"NoSuchBucket":               store.KindConnectivity,
	"PreconditionFailed":         store.KindConflict,
	"ConditionalRequestConflict": store.KindConflict,
	"AccessDenied":               store.KindAuth,
	"Forbidden":                  store.KindAuth,
	"InvalidAccessKeyId":         store.KindAuth,
	"SignatureDoesNotMatch":      store.KindAuth,
	"ExpiredToken":               store.KindAuth,
	"InvalidToken":               store.KindAuth,
	"SlowDown":                   store.KindCapacity,
	"ServiceUnavailable":         store.KindCapacity,
	"RequestLimitExceeded":       store.KindCapacity,
	"InvalidArgument":            store.KindValidation,
	"InvalidRequest":             store.KindValidation,
	"KeyTooLongError":            store.KindValidation,
	"EntityTooLarge":             store.KindValidation,
}

// classifyWrite treats a 404 on a write as a missing bucket, which the
// fallback can route around.
func classifyWrite(op string, err error) error {
	classified := classify(op, err)
	if store.KindOf(classified) == store.KindNotFound {
		return store.E(store.KindConnectivity, op, storage.TagS3, err)
	}
	return classified
}

type httpStatus interface {
	HTTPStatusCode() int
}

func classify(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if kind, ok := codeKinds[apiErr.ErrorCode()]; ok {
			return store.E(kind, op, storage.TagS3, err)
		}
	}
	var status httpStatus
	if errors.As(err, &status) {
		switch code := status.HTTPStatusCode(); {
		case code == http.StatusNotFound:
			return store.E(store.KindNotFound, op, storage.TagS3, err)
		case code == http.StatusUnauthorized, code == http.StatusForbidden:
			return store.E(store.KindAuth, op, storage.TagS3, err)
		case code == http.StatusPreconditionFailed, code == http.StatusConflict:
			return store.E(store.KindConflict, op, storage.TagS3, err)
		case code == http.StatusTooManyRequests, code == http.StatusServiceUnavailable:
			return store.E(store.KindCapacity, op, storage.TagS3, err)
		case code >= 400 && code < 500:
			return store.E(store.KindValidation, op, storage.TagS3, err)
		}
	}
	return store.E(store.KindConnectivity, op, storage.TagS3, err)
}
