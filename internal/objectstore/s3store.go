package objectstore

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type s3Store struct {
	cfg        Config
	endpoint   *url.URL
	httpClient *http.Client
}

func newS3Store(cfg Config) *s3Store {
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if strings.Contains(endpoint, "://") {
		if parsed, err := url.Parse(endpoint); err == nil {
			endpoint = parsed.Host
		}
	}
	return &s3Store{
		cfg:        cfg,
		endpoint:   &url.URL{Scheme: scheme, Host: endpoint},
		httpClient: &http.Client{Timeout: cfg.timeout()},
	}
}

func (s *s3Store) objectURL(key string) *url.URL {
	u := *s.endpoint
	u.Path = "/" + strings.TrimLeft(s.cfg.Bucket, "/") + "/" + strings.TrimLeft(key, "/")
	return &u
}

func (s *s3Store) publicURL(key string) string {
	base := strings.TrimRight(strings.TrimSpace(s.cfg.PublicEndpoint), "/")
	if base == "" {
		return ""
	}
	return base + "/" + strings.TrimLeft(key, "/")
}

type initiateMultipartResult struct {
	XMLName  xml.Name `xml:"InitiateMultipartUploadResult"`
	UploadID string   `xml:"UploadId"`
}

func (s *s3Store) InitMultipart(ctx context.Context, key, contentType string) (string, error) {
	target := s.objectURL(key)
	q := target.Query()
	q.Set("uploads", "")
	target.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), nil)
	if err != nil {
		return "", fmt.Errorf("create init-multipart request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	signRequest(req, s.cfg, emptyPayloadHash)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("init multipart %s: %w", key, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("init multipart %s: unexpected status %d", key, resp.StatusCode)
	}
	var result initiateMultipartResult
	if err := xml.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("parse init-multipart response: %w", err)
	}
	if result.UploadID == "" {
		return "", fmt.Errorf("init multipart %s: empty upload id in response", key)
	}
	return result.UploadID, nil
}

func (s *s3Store) PresignPart(_ context.Context, key, uploadID string, partNumber int, ttl time.Duration) (string, error) {
	target := s.objectURL(key)
	q := target.Query()
	q.Set("partNumber", strconv.Itoa(partNumber))
	q.Set("uploadId", uploadID)
	target.RawQuery = q.Encode()
	return presignURL(http.MethodPut, target, s.cfg, ttl), nil
}

type completeMultipartRequest struct {
	XMLName xml.Name                `xml:"CompleteMultipartUpload"`
	Parts   []completeMultipartPart `xml:"Part"`
}

type completeMultipartPart struct {
	PartNumber int    `xml:"PartNumber"`
	ETag       string `xml:"ETag"`
}

func (s *s3Store) CompleteMultipart(ctx context.Context, key, uploadID string, parts []Part) error {
	if len(parts) == 0 {
		return ErrBadComposition
	}
	for i, p := range parts {
		if p.Number != i+1 {
			return ErrBadComposition
		}
	}

	payload := completeMultipartRequest{}
	for _, p := range parts {
		payload.Parts = append(payload.Parts, completeMultipartPart{PartNumber: p.Number, ETag: p.ETag})
	}
	body, err := xml.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode complete-multipart body: %w", err)
	}

	target := s.objectURL(key)
	q := target.Query()
	q.Set("uploadId", uploadID)
	target.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create complete-multipart request: %w", err)
	}
	signRequest(req, s.cfg, hashSHA256Hex(body))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("complete multipart %s: %w", key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ErrNoSuchUpload
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("complete multipart %s: unexpected status %d", key, resp.StatusCode)
	}
	return nil
}

func (s *s3Store) AbortMultipart(ctx context.Context, key, uploadID string) error {
	target := s.objectURL(key)
	q := target.Query()
	q.Set("uploadId", uploadID)
	target.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target.String(), nil)
	if err != nil {
		return fmt.Errorf("create abort-multipart request: %w", err)
	}
	signRequest(req, s.cfg, emptyPayloadHash)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("abort multipart %s: %w", key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 || resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return fmt.Errorf("abort multipart %s: unexpected status %d", key, resp.StatusCode)
}

func (s *s3Store) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	target := s.objectURL(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create get request: %w", err)
	}
	signRequest(req, s.cfg, emptyPayloadHash)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, fmt.Errorf("get object %s: unexpected status %d", key, resp.StatusCode)
	}
	return resp.Body, nil
}

func (s *s3Store) PutObject(ctx context.Context, key, contentType string, body io.Reader, size int64) (ObjectRef, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return ObjectRef{}, fmt.Errorf("read object body: %w", err)
	}
	target := s.objectURL(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target.String(), bytes.NewReader(data))
	if err != nil {
		return ObjectRef{}, fmt.Errorf("create put request: %w", err)
	}
	req.ContentLength = int64(len(data))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	hash := hashSHA256Hex(data)
	signRequest(req, s.cfg, hash)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return ObjectRef{}, fmt.Errorf("put object %s: %w", key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ObjectRef{}, fmt.Errorf("put object %s: unexpected status %d", key, resp.StatusCode)
	}
	return ObjectRef{Key: key, URL: s.publicURL(key)}, nil
}

func (s *s3Store) DeleteObject(ctx context.Context, key string) error {
	target := s.objectURL(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target.String(), nil)
	if err != nil {
		return fmt.Errorf("create delete request: %w", err)
	}
	signRequest(req, s.cfg, emptyPayloadHash)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 || resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return fmt.Errorf("delete object %s: unexpected status %d", key, resp.StatusCode)
}

// SyncTree uploads every regular file under localDir to bucket/prefix,
// skipping anything matching ignoreGlobs. Used once per finished rendition
// to push the playlist/segment tree that C10 wrote to local disk.
func (s *s3Store) SyncTree(ctx context.Context, localDir, prefix string, ignoreGlobs []string) error {
	return filepath.Walk(localDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		for _, glob := range ignoreGlobs {
			if matched, _ := filepath.Match(glob, filepath.Base(rel)); matched {
				return nil
			}
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		key := strings.TrimRight(prefix, "/") + "/" + rel
		_, err = s.PutObject(ctx, key, contentTypeFor(rel), f, info.Size())
		return err
	})
}

func contentTypeFor(name string) string {
	switch {
	case strings.HasSuffix(name, ".m3u8"):
		return "application/vnd.apple.mpegurl"
	case strings.HasSuffix(name, ".ts"):
		return "video/mp2t"
	case strings.HasSuffix(name, ".mp4"):
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}

var _ Store = (*s3Store)(nil)
