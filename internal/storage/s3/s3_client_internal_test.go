package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prospector/internal/domain"
)

type fakeGetter struct {
	body        []byte
	contentType string
	err         error
	gotBucket   string
	gotKey      string
}

func (f *fakeGetter) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.gotBucket = aws.ToString(in.Bucket)
	f.gotKey = aws.ToString(in.Key)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetObjectOutput{
		Body:        io.NopCloser(bytes.NewReader(f.body)),
		ContentType: aws.String(f.contentType),
	}, nil
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		ref         string
		wantBucket  string
		wantKey     string
		expectedErr bool
	}{
		{"s3://docs/tax/d1.pdf", "docs", "tax/d1.pdf", false},
		{"tax/d1.pdf", "default", "tax/d1.pdf", false},
		{"/tax/d1.pdf", "default", "tax/d1.pdf", false},
		{"s3://docs", "", "", true},
		{"s3:///key", "", "", true},
		{"https://example.com/a.pdf", "", "", true},
		{"  ", "", "", true},
	}
	for _, tt := range tests {
		bucket, key, err := ParseRef(tt.ref, "default")
		if tt.expectedErr {
			assert.ErrorIs(t, err, domain.ErrInvalidReference, tt.ref)
			continue
		}
		require.NoError(t, err, tt.ref)
		assert.Equal(t, tt.wantBucket, bucket)
		assert.Equal(t, tt.wantKey, key)
	}
}

func TestFetch_Success(t *testing.T) {
	api := &fakeGetter{body: []byte("%PDF-1.4"), contentType: "application/pdf"}
	c := newWithAPI(api, "default")

	obj, err := c.Fetch(context.Background(), "s3://docs/d1.pdf")
	require.NoError(t, err)
	assert.Equal(t, "docs", api.gotBucket)
	assert.Equal(t, "d1.pdf", api.gotKey)
	assert.Equal(t, "application/pdf", obj.ContentType)
	assert.Equal(t, int64(8), obj.Size)
}

func TestFetch_NotFound(t *testing.T) {
	c := newWithAPI(&fakeGetter{err: &types.NoSuchKey{}}, "default")
	_, err := c.Fetch(context.Background(), "d1.pdf")
	assert.ErrorIs(t, err, domain.ErrFileNotFound)
}

func TestFetch_Empty(t *testing.T) {
	c := newWithAPI(&fakeGetter{body: nil}, "default")
	_, err := c.Fetch(context.Background(), "d1.pdf")
	assert.ErrorIs(t, err, domain.ErrEmptyFile)
}

func TestFetch_TransportError(t *testing.T) {
	c := newWithAPI(&fakeGetter{err: errors.New("connection reset")}, "default")
	_, err := c.Fetch(context.Background(), "d1.pdf")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrFileNotFound)
	assert.Equal(t, domain.KindTransient, domain.KindOf(err))
}

func responseError(status int) error {
	return &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
			Err:      errors.New(http.StatusText(status)),
		},
	}
}

func TestFetch_ClientFaultIsPermanent(t *testing.T) {
	for _, status := range []int{http.StatusForbidden, http.StatusBadRequest, http.StatusUnauthorized} {
		c := newWithAPI(&fakeGetter{err: responseError(status)}, "default")
		_, err := c.Fetch(context.Background(), "d1.pdf")
		assert.ErrorIs(t, err, domain.ErrFileUnavailable, "status %d", status)
		assert.Equal(t, domain.KindPermanent, domain.KindOf(err), "status %d", status)
	}
}

func TestFetch_ThrottlingAndServerFaultsStayTransient(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusRequestTimeout, http.StatusServiceUnavailable} {
		c := newWithAPI(&fakeGetter{err: responseError(status)}, "default")
		_, err := c.Fetch(context.Background(), "d1.pdf")
		assert.NotErrorIs(t, err, domain.ErrFileUnavailable, "status %d", status)
		assert.Equal(t, domain.KindTransient, domain.KindOf(err), "status %d", status)
	}
}
