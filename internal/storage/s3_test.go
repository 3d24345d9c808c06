package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, _ := io.ReadAll(in.Body)
	f.objects[aws.ToString(in.Key)] = data
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:        io.NopCloser(bytes.NewReader(data)),
		ContentType: aws.String(f.types[aws.ToString(in.Key)]),
	}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

type fakePresigner struct {
	expires time.Duration
}

func (p *fakePresigner) PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	opts := s3.PresignOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	p.expires = opts.Expires
	return &v4.PresignedHTTPRequest{URL: "https://minio.local/" + aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key) + "?sig=1"}, nil
}

func TestS3StorePresignedURL(t *testing.T) {
	api := newFakeS3()
	presigner := &fakePresigner{}
	store := newS3Store(api, presigner, S3Options{Bucket: "grafo", PresignTTL: time.Hour})

	url, err := store.Put(context.Background(), "users/u/h/original.png", []byte("img"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "https://minio.local/grafo/users/u/h/original.png?sig=1", url)
	assert.Equal(t, time.Hour, presigner.expires)

	data, ct, err := store.Get(context.Background(), "users/u/h/original.png")
	require.NoError(t, err)
	assert.Equal(t, "img", string(data))
	assert.Equal(t, "image/png", ct)
}

func TestS3StorePublicURL(t *testing.T) {
	store := newS3Store(newFakeS3(), &fakePresigner{}, S3Options{Bucket: "grafo", PublicBaseURL: "https://cdn.example.com/"})
	url, err := store.Put(context.Background(), "/users/u/h/processed.png", []byte("img"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/users/u/h/processed.png", url)
}

func TestS3StoreMissingAndDelete(t *testing.T) {
	api := newFakeS3()
	store := newS3Store(api, &fakePresigner{}, S3Options{Bucket: "grafo"})
	_, _, err := store.Get(context.Background(), "nope.png")
	assert.ErrorIs(t, err, ErrNotFound)

	api.objects["a.png"] = []byte("x")
	require.NoError(t, store.Delete(context.Background(), "a.png"))
	assert.NotContains(t, api.objects, "a.png")
}

func TestS3StorePutError(t *testing.T) {
	api := newFakeS3()
	api.putErr = errors.New("denied")
	store := newS3Store(api, &fakePresigner{}, S3Options{Bucket: "grafo"})
	_, err := store.Put(context.Background(), "a.png", []byte("x"), "image/png")
	require.Error(t, err)
}

func TestNewS3StoreRequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), S3Options{})
	require.Error(t, err)
}
