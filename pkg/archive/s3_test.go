package archive

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/config"
	apmerrors "github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/errors"
)

type fakeS3 struct {
	bucket string
	key    string
	body   []byte
	err    error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.bucket = aws.ToString(in.Bucket)
	f.key = aws.ToString(in.Key)
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = body
	return &s3.PutObjectOutput{}, nil
}

func TestArchiveUploadsUnderPrefix(t *testing.T) {
	client := &fakeS3{}
	a := NewS3Archiver(client, "profiles-bucket", "apm/profiles/")

	loc, err := a.Archive(context.Background(), "cpu/2024/05/01/abc.pb.gz", []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, "s3://profiles-bucket/apm/profiles/cpu/2024/05/01/abc.pb.gz", loc)
	assert.Equal(t, "profiles-bucket", client.bucket)
	assert.Equal(t, "apm/profiles/cpu/2024/05/01/abc.pb.gz", client.key)
	assert.Equal(t, []byte{1, 2, 3}, client.body)
}

func TestArchiveWrapsUploadError(t *testing.T) {
	cause := errors.New("access denied")
	a := NewS3Archiver(&fakeS3{err: cause}, "b", "")

	_, err := a.Archive(context.Background(), "heap/x.pb.gz", []byte{1})
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, apmerrors.ErrProfiling)
}

func TestNewFromConfigRequiresBucket(t *testing.T) {
	_, err := NewFromConfig(context.Background(), config.DefaultConfig().Profiling)
	assert.ErrorIs(t, err, apmerrors.ErrInvalidArgument)
}
