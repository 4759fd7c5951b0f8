package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type BlockData struct {
	Hash      string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
}

// BlockSource serves the protected resource.
type BlockSource interface {
	LatestBlock(ctx context.Context) (*BlockData, error)
}

// BlockstreamClient reads the current chain tip hash as plain text.
type BlockstreamClient struct {
	URL  string
	HTTP *http.Client
}

func NewBlockstreamClient(url string, timeout time.Duration) *BlockstreamClient {
	return &BlockstreamClient{URL: url, HTTP: &http.Client{Timeout: timeout}}
}

func (c *BlockstreamClient) LatestBlock(ctx context.Context) (*BlockData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "l402-paywall/1.0")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("block tip status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return nil, err
	}
	hash := strings.TrimSpace(string(body))
	if hash == "" {
		return nil, fmt.Errorf("empty block tip response")
	}
	return &BlockData{Hash: hash, Timestamp: time.Now().UTC()}, nil
}
