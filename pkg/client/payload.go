package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Storage locators served faster from the CDN.
const (
	storagePrefix = "storage.googleapis.com/dream-machines-output"
	cdnHost       = "cdn.midjourney.com"
)

// RewriteCDN maps a storage bucket locator onto the CDN host. Other locators
// are returned unchanged.
func RewriteCDN(locator string) string {
	return strings.Replace(locator, storagePrefix, cdnHost, 1)
}

// FetchPayload downloads the binary payload behind locator. Missing payloads
// (empty locator, 404, 410) return an error wrapping ErrPayloadNotFound.
func (c *Client) FetchPayload(ctx context.Context, locator string) ([]byte, error) {
	if strings.TrimSpace(locator) == "" {
		return nil, fmt.Errorf("%w: empty locator", ErrPayloadNotFound)
	}

	url := locator
	if c.config.RewriteCDN {
		url = RewriteCDN(locator)
	}

	resp, err := c.Get(ctx, url, "payload")
	if err != nil {
		return nil, fmt.Errorf("fetch payload %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: %s (status %d)", ErrPayloadNotFound, url, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("fetch payload %s: %w", url, responseError(resp, c.classifyError(resp, nil)))
	}

	limit := c.config.MaxPayloadBytes
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read payload %s: %w", url, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("payload %s exceeds %d bytes", url, limit)
	}

	payloadBytes.Add(float64(len(data)))
	return data, nil
}
