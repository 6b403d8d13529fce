package elements

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/artstore/pkg/errdefs"
	"github.com/cuemby/artstore/pkg/types"
)

// Client talks to a storage element's HTTP API
type Client struct {
	httpClient *http.Client
}

// NewClient creates a storage element client
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Info fetches the unauthenticated discovery payload
func (c *Client) Info(ctx context.Context, endpoint string) (*types.DiscoveryInfo, error) {
	url := strings.TrimRight(endpoint, "/") + "/api/v1/info"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build info request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindBackendUnavailable, "element unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errdefs.Newf(errdefs.KindBackendUnavailable,
			"element info returned status %d", resp.StatusCode)
	}
	var info types.DiscoveryInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode info payload: %w", err)
	}
	if info.Name == "" {
		return nil, errdefs.New(errdefs.KindValidation, "element info payload has no name")
	}
	return &info, nil
}

// PhysicalObject is one entry of an element's backend listing
type PhysicalObject struct {
	Path       string    `json:"path"`
	SizeBytes  int64     `json:"size_bytes"`
	ModTime    time.Time `json:"mod_time"`
	FileID     string    `json:"file_id,omitempty"`
	HasSidecar bool      `json:"has_sidecar"`
}

// ListObjects pages through the element's physical backend listing. The
// orphan sweep uses it instead of the cache-backed file search so objects
// without a cache row or sidecar are still enumerated. A page shorter
// than limit is the last one.
func (c *Client) ListObjects(ctx context.Context, endpoint, token string, limit, offset int) ([]PhysicalObject, error) {
	url := fmt.Sprintf("%s/api/v1/gc/objects?limit=%d&offset=%d",
		strings.TrimRight(endpoint, "/"), limit, offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build object listing request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindBackendUnavailable, "element unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errdefs.Newf(errdefs.KindBackendUnavailable,
			"element object listing returned status %d", resp.StatusCode)
	}
	var page struct {
		Objects []PhysicalObject `json:"objects"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode object listing: %w", err)
	}
	return page.Objects, nil
}

// DeleteObjectPath removes an object by backend path. A 404 from the
// element is treated as success.
func (c *Client) DeleteObjectPath(ctx context.Context, endpoint, objectPath, token string) error {
	u := strings.TrimRight(endpoint, "/") + "/api/v1/gc/objects?path=" + url.QueryEscape(objectPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build object delete request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errdefs.Wrap(errdefs.KindBackendUnavailable, "element unreachable", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return errdefs.Newf(errdefs.KindBackendUnavailable,
			"element object delete returned status %d", resp.StatusCode)
	}
}

// DeleteFile issues the internal physical delete used by garbage
// collection. A 404 from the element is treated as success.
func (c *Client) DeleteFile(ctx context.Context, endpoint, fileID, token string) error {
	url := strings.TrimRight(endpoint, "/") + "/api/v1/gc/" + fileID
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build delete request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errdefs.Wrap(errdefs.KindBackendUnavailable, "element unreachable", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return errdefs.Newf(errdefs.KindBackendUnavailable,
			"element delete returned status %d", resp.StatusCode)
	}
}

// FileExists asks the element whether it still holds a file
func (c *Client) FileExists(ctx context.Context, endpoint, fileID, token string) (bool, error) {
	url := strings.TrimRight(endpoint, "/") + "/api/v1/gc/" + fileID + "/exists"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build exists request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, errdefs.Wrap(errdefs.KindBackendUnavailable, "element unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, errdefs.Newf(errdefs.KindBackendUnavailable,
			"element exists check returned status %d", resp.StatusCode)
	}
	var body struct {
		Exists bool `json:"exists"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("failed to decode exists payload: %w", err)
	}
	return body.Exists, nil
}
