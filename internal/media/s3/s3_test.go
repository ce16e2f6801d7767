package s3

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	bucket      string
	key         string
	contentType string
	body        []byte
	err         error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.bucket = aws.ToString(in.Bucket)
	f.key = aws.ToString(in.Key)
	f.contentType = aws.ToString(in.ContentType)

	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = body

	return &s3.PutObjectOutput{}, nil
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestUpload(t *testing.T) {
	putter := &fakePutter{}
	u := NewWithClient(putter, Config{
		Endpoint:  "http://localhost:9000",
		Bucket:    "avatars",
		KeyPrefix: "users",
	})
	u.now = func() time.Time { return time.Date(2026, time.March, 4, 10, 0, 0, 0, time.UTC) }

	url, err := u.Upload(context.Background(), writeTemp(t, "abc.png", "png-bytes"))
	require.NoError(t, err)

	assert.Equal(t, "avatars", putter.bucket)
	assert.True(t, strings.HasPrefix(putter.key, "users/2026/03/"), putter.key)
	assert.True(t, strings.HasSuffix(putter.key, ".png"), putter.key)
	assert.Equal(t, "image/png", putter.contentType)
	assert.Equal(t, "png-bytes", string(putter.body))
	assert.Equal(t, "http://localhost:9000/avatars/"+putter.key, url)
}

func TestUpload_PublicURL(t *testing.T) {
	putter := &fakePutter{}
	u := NewWithClient(putter, Config{
		Bucket:    "avatars",
		PublicURL: "https://cdn.example.com/",
	})

	url, err := u.Upload(context.Background(), writeTemp(t, "abc.jpg", "jpg"))
	require.NoError(t, err)

	assert.Equal(t, "https://cdn.example.com/"+putter.key, url)
}

func TestUpload_Errors(t *testing.T) {
	u := NewWithClient(&fakePutter{err: errors.New("boom")}, Config{Bucket: "avatars"})

	_, err := u.Upload(context.Background(), writeTemp(t, "abc.jpg", "jpg"))
	assert.ErrorContains(t, err, "boom")

	_, err = u.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.jpg"))
	assert.Error(t, err)

	_, err = u.Upload(context.Background(), "")
	assert.Error(t, err)
}
