// pkg/bucket/client.go
package bucket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/scout-etl/edge-ingest/pkg/config"
)

// Client talks to a storage-gateway REST API (Supabase-storage compatible
// paths). It implements ObjectStore.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	listTO     time.Duration
	downloadTO time.Duration
	logger     *zap.Logger
}

var _ ObjectStore = (*Client)(nil)

// NewClient wires an HTTP object-store client from configuration.
func NewClient(cfg config.BucketConfig, logger *zap.Logger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			// The outer per-call timeout is set via context; this is a
			// hard ceiling against leaked connections.
			Timeout: cfg.DownloadTimeout + 30*time.Second,
		},
		listTO:     cfg.ListTimeout,
		downloadTO: cfg.DownloadTimeout,
		logger:     logger.Named("bucket-client"),
	}
}

type listRequest struct {
	Prefix string `json:"prefix"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

type listEntry struct {
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updated_at"`
	Metadata  struct {
		Size int64 `json:"size"`
	} `json:"metadata"`
}

// List returns objects under pathPrefix, paging through the gateway until
// the listing is exhausted.
func (c *Client) List(ctx context.Context, bucket, pathPrefix string) ([]FileRef, error) {
	const pageSize = 1000

	var refs []FileRef
	for offset := 0; ; offset += pageSize {
		page, err := c.listPage(ctx, bucket, pathPrefix, pageSize, offset)
		if err != nil {
			return nil, err
		}

		for _, entry := range page {
			refs = append(refs, FileRef{
				Name:      entry.Name,
				Path:      path.Join(pathPrefix, entry.Name),
				Size:      entry.Metadata.Size,
				UpdatedAt: entry.UpdatedAt,
			})
		}

		if len(page) < pageSize {
			return refs, nil
		}
	}
}

func (c *Client) listPage(ctx context.Context, bucket, prefix string, limit, offset int) ([]listEntry, error) {
	listCtx, cancel := context.WithTimeout(ctx, c.listTO)
	defer cancel()

	body, err := json.Marshal(listRequest{Prefix: prefix, Limit: limit, Offset: offset})
	if err != nil {
		return nil, fmt.Errorf("encode list request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/storage/v1/object/list/%s", c.baseURL, url.PathEscape(bucket))
	req, err := http.NewRequestWithContext(listCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build list request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", bucket, prefix, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list %s/%s: unexpected status %d", bucket, prefix, resp.StatusCode)
	}

	var entries []listEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode list response: %w", err)
	}
	return entries, nil
}

// Download fetches one object's raw bytes.
func (c *Client) Download(ctx context.Context, bucket, objectPath string) ([]byte, error) {
	dlCtx, cancel := context.WithTimeout(ctx, c.downloadTO)
	defer cancel()

	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, url.PathEscape(bucket), objectPath)
	req, err := http.NewRequestWithContext(dlCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s/%s: %w", bucket, objectPath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s/%s: unexpected status %d", bucket, objectPath, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read object body %s/%s: %w", bucket, objectPath, err)
	}

	c.logger.Debug("Downloaded object",
		zap.String("bucket", bucket),
		zap.String("path", objectPath),
		zap.Int("bytes", len(data)))

	return data, nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
