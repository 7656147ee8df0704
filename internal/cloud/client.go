// Package cloud fetches live quota directly from the code-assist API,
// independent of the local language server. It backs the force-refresh path.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"gravbar/internal/creds"
	"gravbar/internal/quota"
)

const (
	defaultBaseURL = "https://cloudcode-pa.googleapis.com"

	loadCodeAssistPath       = "/v1internal:loadCodeAssist"
	fetchAvailableModelsPath = "/v1internal:fetchAvailableModels"

	requestTimeout   = 15 * time.Second
	maxResponseBytes = 1 << 20
)

var (
	ErrNoCredentials     = errors.New("no stored credentials")
	ErrProjectResolution = errors.New("could not resolve project id")
	ErrInvalidResponse   = errors.New("invalid cloud response")
)

// RequestError reports a non-2xx response from the cloud API.
type RequestError struct {
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("cloud request failed: HTTP %d: %s", e.Status, e.Body)
}

// CredentialSource supplies OAuth credentials for cloud calls.
type CredentialSource interface {
	Credentials(ctx context.Context) (creds.Credentials, error)
	HasCredentials() bool
}

// Client resolves a code-assist project and queries the remote quota
// endpoint. The resolved project id is cached after the first success and
// owned exclusively by this client.
type Client struct {
	src  CredentialSource
	base string
	http *http.Client

	mu        sync.Mutex
	projectID string
}

func NewClient(src CredentialSource) *Client {
	return &Client{
		src:  src,
		base: defaultBaseURL,
		http: &http.Client{Timeout: requestTimeout},
	}
}

// IsAvailable reports whether credentials exist at all. It does not
// guarantee a cloud call will succeed.
func (c *Client) IsAvailable() bool {
	return c.src.HasCredentials()
}

// FetchAvailableModels returns the current per-model quota from the cloud
// endpoint, sorted by display label for determinism (upstream map order is
// not guaranteed).
func (c *Client) FetchAvailableModels(ctx context.Context) ([]quota.ModelQuota, error) {
	cr, err := c.src.Credentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCredentials, err)
	}

	project, err := c.project(ctx, cr)
	if err != nil {
		return nil, err
	}

	body, err := c.post(ctx, fetchAvailableModelsPath, cr.AccessToken,
		map[string]any{"project": project})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Models map[string]modelInfo `json:"models"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if parsed.Models == nil {
		return nil, fmt.Errorf("%w: missing models", ErrInvalidResponse)
	}

	out := make([]quota.ModelQuota, 0, len(parsed.Models))
	for id, info := range parsed.Models {
		out = append(out, info.toModelQuota(id))
	}
	return quota.Sorted(out, quota.SortOrder{Key: quota.SortByName}), nil
}

// project returns the cloud project id: from the stored credentials when
// present, from the cache after a prior resolution, otherwise via a
// loadCodeAssist call.
func (c *Client) project(ctx context.Context, cr creds.Credentials) (string, error) {
	if cr.ProjectID != "" {
		return cr.ProjectID, nil
	}

	c.mu.Lock()
	cached := c.projectID
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	resolved, err := c.resolveProject(ctx, cr.AccessToken)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.projectID = resolved
	c.mu.Unlock()
	return resolved, nil
}

func (c *Client) resolveProject(ctx context.Context, token string) (string, error) {
	body, err := c.post(ctx, loadCodeAssistPath, token, map[string]any{
		"metadata": map[string]string{
			"ideType":    "IDE_UNSPECIFIED",
			"platform":   "PLATFORM_UNSPECIFIED",
			"pluginType": "GEMINI",
		},
	})
	if err != nil {
		return "", err
	}

	var parsed struct {
		CloudAICompanionProject json.RawMessage `json:"cloudaicompanionProject"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	project := projectFrom(parsed.CloudAICompanionProject)
	if project == "" {
		return "", ErrProjectResolution
	}
	return project, nil
}

// projectFrom accepts the project either as a bare string or as an object
// carrying the id under one of three field names.
func projectFrom(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Name      string `json:"name"`
		Project   string `json:"project"`
		ProjectID string `json:"projectId"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	switch {
	case obj.Name != "":
		return obj.Name
	case obj.Project != "":
		return obj.Project
	default:
		return obj.ProjectID
	}
}

func (c *Client) post(ctx context.Context, path, token string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cloud request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("cloud request: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RequestError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

type modelInfo struct {
	DisplayName      string `json:"displayName"`
	Model            string `json:"model"`
	SupportsImages   bool   `json:"supportsImages"`
	SupportsThinking bool   `json:"supportsThinking"`
	QuotaInfo        *struct {
		RemainingFraction *float64 `json:"remainingFraction"`
		ResetTime         string   `json:"resetTime"`
	} `json:"quotaInfo"`
}

func (m modelInfo) toModelQuota(id string) quota.ModelQuota {
	label := m.DisplayName
	if label == "" {
		label = id
	}
	q := quota.ModelQuota{
		ModelKey:          id,
		DisplayLabel:      label,
		RemainingFraction: 1.0,
		SupportsImages:    m.SupportsImages,
	}
	if m.QuotaInfo != nil {
		if m.QuotaInfo.RemainingFraction != nil {
			q.RemainingFraction = *m.QuotaInfo.RemainingFraction
		}
		if t, err := time.Parse(time.RFC3339, m.QuotaInfo.ResetTime); err == nil {
			q.ResetTime = &t
		}
	}
	return q
}
