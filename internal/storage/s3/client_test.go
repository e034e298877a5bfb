package s3

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-tracker/internal/storage"
	"github.com/JakeFAU/site-tracker/internal/storage/memory"
	"github.com/JakeFAU/site-tracker/internal/storage/objectstore"
	"github.com/JakeFAU/site-tracker/internal/store"
)

type fakeAPI struct {
	mu       sync.Mutex
	objects  map[string][]byte
	pageSize int
	err      error
	lastPut  *s3.PutObjectInput
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{objects: map[string][]byte{}, pageSize: 2}
}

var _ objectstore.Client = (*Client)(nil)

func notFound() error {
	return &smithy.GenericAPIError{Code: "NoSuchKey", Message: "missing"}
}

func (f *fakeAPI) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.lastPut = in
	key := aws.ToString(in.Key)
	if _, ok := f.objects[key]; ok && aws.ToString(in.IfNoneMatch) == "*" {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "exists"}
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeAPI) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, notFound()
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeAPI) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &smithy.GenericAPIError{Code: "NotFound", Message: "missing"}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeAPI) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeAPI) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) && k > aws.ToString(in.ContinuationToken) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{}
	if len(keys) > f.pageSize {
		keys = keys[:f.pageSize]
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[len(keys)-1])
	}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func (f *fakeAPI) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &s3.HeadBucketOutput{}, nil
}

type fakePresigner struct {
	ttl time.Duration
}

func (p *fakePresigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	opts := s3.PresignOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	p.ttl = opts.Expires
	return &v4.PresignedHTTPRequest{URL: "https://bucket.s3.amazonaws.com/" + aws.ToString(in.Key) + "?X-Amz-Signature=abc"}, nil
}

func TestNewWithAPIValidates(t *testing.T) {
	t.Parallel()

	_, err := NewWithAPI(nil, nil, "b")
	require.Error(t, err)
	_, err = NewWithAPI(newFakeAPI(), nil, "")
	require.Error(t, err)
}

func TestPutObjectIsCreateOnly(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	c, err := NewWithAPI(api, nil, "bucket")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.PutObject(ctx, "a/b.txt", []byte("one"), "text/plain"))
	assert.Equal(t, "*", aws.ToString(api.lastPut.IfNoneMatch))
	assert.Equal(t, "bucket", aws.ToString(api.lastPut.Bucket))
	assert.Equal(t, "text/plain", aws.ToString(api.lastPut.ContentType))

	err = c.PutObject(ctx, "a/b.txt", []byte("two"), "text/plain")
	require.ErrorIs(t, err, store.ErrConflict)

	data, err := c.GetObject(ctx, "a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), data)
}

func TestGetMissingIsNotFound(t *testing.T) {
	t.Parallel()

	c, err := NewWithAPI(newFakeAPI(), nil, "bucket")
	require.NoError(t, err)

	_, err = c.GetObject(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, c.HeadObject(context.Background(), "missing"), store.ErrNotFound)
}

func TestListObjectsPages(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	c, err := NewWithAPI(api, nil, "bucket")
	require.NoError(t, err)
	ctx := context.Background()
	for _, k := range []string{"p/1", "p/2", "p/3", "p/4", "p/5", "q/1"} {
		require.NoError(t, c.PutObject(ctx, k, []byte(k), ""))
	}

	var keys []string
	for k, err := range c.ListObjects(ctx, "p/") {
		require.NoError(t, err)
		keys = append(keys, k)
	}
	assert.Equal(t, []string{"p/1", "p/2", "p/3", "p/4", "p/5"}, keys)
}

func TestListObjectsStopsEarly(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	c, err := NewWithAPI(api, nil, "bucket")
	require.NoError(t, err)
	ctx := context.Background()
	for _, k := range []string{"p/1", "p/2", "p/3"} {
		require.NoError(t, c.PutObject(ctx, k, nil, ""))
	}

	n := 0
	for range c.ListObjects(ctx, "p/") {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestPresignGet(t *testing.T) {
	t.Parallel()

	presigner := &fakePresigner{}
	c, err := NewWithAPI(newFakeAPI(), presigner, "bucket")
	require.NoError(t, err)

	url, err := c.PresignGet(context.Background(), "a/b.txt", 15*time.Minute)
	require.NoError(t, err)
	assert.Contains(t, url, "a/b.txt")
	assert.Equal(t, 15*time.Minute, presigner.ttl)

	noPresign, err := NewWithAPI(newFakeAPI(), nil, "bucket")
	require.NoError(t, err)
	_, err = noPresign.PresignGet(context.Background(), "a", time.Minute)
	require.ErrorIs(t, err, store.ErrUnsupported)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, store.ErrAuth},
		{"expired token", &smithy.GenericAPIError{Code: "ExpiredToken"}, store.ErrAuth},
		{"slow down", &smithy.GenericAPIError{Code: "SlowDown"}, store.ErrCapacity},
		{"no such bucket", &smithy.GenericAPIError{Code: "NoSuchBucket"}, store.ErrConnectivity},
		{"too large", &smithy.GenericAPIError{Code: "EntityTooLarge"}, store.ErrValidation},
		{"unknown code", &smithy.GenericAPIError{Code: "InternalError"}, store.ErrConnectivity},
		{"network", context.DeadlineExceeded, store.ErrConnectivity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.ErrorIs(t, classify("blob put", tt.err), tt.want)
		})
	}
}

func TestPingReportsAuthFailure(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.err = &smithy.GenericAPIError{Code: "InvalidAccessKeyId"}
	c, err := NewWithAPI(api, nil, "bucket")
	require.NoError(t, err)

	err = c.Ping(context.Background())
	require.ErrorIs(t, err, store.ErrAuth)
	assert.Equal(t, store.KindAuth, store.KindOf(err))
}

func TestPutToMissingBucketFallsBack(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.err = &smithy.GenericAPIError{Code: "NoSuchBucket", Message: "The specified bucket does not exist"}
	c, err := NewWithAPI(api, nil, "missing-bucket")
	require.NoError(t, err)

	err = c.PutObject(context.Background(), "a.txt", []byte("x"), "text/plain")
	require.ErrorIs(t, err, store.ErrConnectivity)
	assert.NotErrorIs(t, err, store.ErrNotFound)

	primary, err := objectstore.New(c, objectstore.Config{}, nil)
	require.NoError(t, err)
	secondaryClient := memory.NewClient()
	secondary, err := objectstore.New(secondaryClient, objectstore.Config{}, nil)
	require.NoError(t, err)
	fb, err := storage.NewFallback(primary, secondary, nil)
	require.NoError(t, err)

	loc, err := fb.Put(context.Background(), "site/index.html", []byte("<html></html>"), "text/html")
	require.NoError(t, err)
	assert.Equal(t, storage.TagMemory, loc.Backend)
	assert.Equal(t, 1, secondaryClient.Len())
	assert.False(t, fb.LastFallback().IsZero())
}

func TestClassifyWriteTreatsNotFoundAsConnectivity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"bare not found", &smithy.GenericAPIError{Code: "NotFound"}, store.ErrConnectivity},
		{"no such bucket", &smithy.GenericAPIError{Code: "NoSuchBucket"}, store.ErrConnectivity},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, store.ErrAuth},
		{"exists", &smithy.GenericAPIError{Code: "PreconditionFailed"}, store.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.ErrorIs(t, classifyWrite("blob put", tt.err), tt.want)
		})
	}
}
