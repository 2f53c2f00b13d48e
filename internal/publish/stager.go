package publish

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Stager converts a durably-stored media URL into a provider-native media
// handle. The handshake is two-phase: obtain a write target from the provider,
// transfer the source bytes into it, and keep the permanent handle. Batching
// and partial-failure policy live in the orchestrator, not here.
type Stager struct {
	Provider Provider
	HTTP     *http.Client
}

const maxStagedMediaBytes = 64 << 20

func (s *Stager) httpClient() *http.Client {
	if s.HTTP != nil {
		return s.HTTP
	}
	return &http.Client{Timeout: 120 * time.Second}
}

// Stage fetches the source URL, writes the bytes to a provider upload target
// and returns the provider media handle. Either phase failing yields a
// retryable ErrMediaStaging.
func (s *Stager) Stage(ctx context.Context, sourceURL string) (string, error) {
	if strings.TrimSpace(sourceURL) == "" {
		return "", fmt.Errorf("%w: empty source url", ErrMediaStaging)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMediaStaging, err)
	}
	res, err := s.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: fetch_failed: %v", ErrMediaStaging, err)
	}
	data, err := io.ReadAll(io.LimitReader(res.Body, maxStagedMediaBytes))
	contentType := res.Header.Get("Content-Type")
	_ = res.Body.Close()
	if err != nil {
		return "", fmt.Errorf("%w: read_failed: %v", ErrMediaStaging, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("%w: fetch_non_2xx status=%d", ErrMediaStaging, res.StatusCode)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty_source", ErrMediaStaging)
	}

	target, err := s.Provider.CreateUploadTarget(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: upload_target_failed: %v", ErrMediaStaging, err)
	}

	put, err := http.NewRequestWithContext(ctx, http.MethodPut, target.WriteURL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMediaStaging, err)
	}
	if contentType != "" {
		put.Header.Set("Content-Type", contentType)
	}
	put.ContentLength = int64(len(data))
	putRes, err := s.httpClient().Do(put)
	if err != nil {
		return "", fmt.Errorf("%w: write_failed: %v", ErrMediaStaging, err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(putRes.Body, 1<<16))
	_ = putRes.Body.Close()
	if putRes.StatusCode < 200 || putRes.StatusCode >= 300 {
		return "", fmt.Errorf("%w: write_non_2xx status=%d", ErrMediaStaging, putRes.StatusCode)
	}

	return target.Handle, nil
}
