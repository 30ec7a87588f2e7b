package objectstore

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestNewDegradesToNoopWithoutBucketOrEndpoint(t *testing.T) {
	s := New(Config{})
	if _, ok := s.(noopStore); !ok {
		t.Fatalf("expected noopStore for empty config, got %T", s)
	}
	ref, err := s.PutObject(context.Background(), "k", "text/plain", nil, 0)
	if err != nil || ref != (ObjectRef{}) {
		t.Fatalf("noop PutObject should be a safe zero-value no-op, got %+v %v", ref, err)
	}
}

func TestCompleteMultipartRejectsGapsAndOutOfOrder(t *testing.T) {
	s := newS3Store(Config{Bucket: "b", Endpoint: "example.invalid"})

	cases := [][]Part{
		{{Number: 2, ETag: "a"}},
		{{Number: 1, ETag: "a"}, {Number: 3, ETag: "b"}},
		{{Number: 2, ETag: "a"}, {Number: 1, ETag: "b"}},
	}
	for _, parts := range cases {
		if err := s.CompleteMultipart(context.Background(), "key", "upload-1", parts); !errors.Is(err, ErrBadComposition) {
			t.Fatalf("expected ErrBadComposition for %+v, got %v", parts, err)
		}
	}
}

func TestCompleteMultipartRejectsEmptyPartList(t *testing.T) {
	s := newS3Store(Config{Bucket: "b", Endpoint: "example.invalid"})
	if err := s.CompleteMultipart(context.Background(), "key", "upload-1", nil); !errors.Is(err, ErrBadComposition) {
		t.Fatalf("expected ErrBadComposition for empty part list, got %v", err)
	}
}

func TestObjectURLAppliesBucketAndKey(t *testing.T) {
	s := newS3Store(Config{Bucket: "my-bucket", Endpoint: "store.internal:9000"})
	u := s.objectURL("videos/v1/raw.mp4")
	if u.Path != "/my-bucket/videos/v1/raw.mp4" {
		t.Fatalf("unexpected object path: %s", u.Path)
	}
	if u.Scheme != "http" {
		t.Fatalf("expected http scheme by default, got %s", u.Scheme)
	}
}

func TestPresignURLIncludesSignatureQueryParams(t *testing.T) {
	s := newS3Store(Config{
		Bucket: "my-bucket", Endpoint: "store.internal:9000",
		AccessKey: "AKID", SecretKey: "secret",
	})
	urlStr, err := s.PresignPart(context.Background(), "videos/v1/raw.mp4", "upload-1", 1, 0)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	for _, want := range []string{"X-Amz-Signature=", "X-Amz-Credential=AKID", "uploadId=upload-1", "partNumber=1"} {
		if !strings.Contains(urlStr, want) {
			t.Fatalf("expected presigned URL to contain %q, got %s", want, urlStr)
		}
	}
}
