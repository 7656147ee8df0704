// Package langserver talks to the local Antigravity language server over its
// Connect-style JSON RPC surface.
package langserver

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"gravbar/internal/locator"
	"gravbar/internal/quota"
)

const (
	rpcPath   = "/exa.language_server_pb.LanguageServerService/GetUserStatus"
	localHost = "127.0.0.1"

	requestTimeout = 10 * time.Second

	maxResponseBytes = 1 << 20
)

// ErrConnectionFailed wraps transport and parse failures. Callers invalidate
// their cached ConnectionInfo on any error from this package: the server's
// port and token change across restarts.
var ErrConnectionFailed = errors.New("language server request failed")

// UserStatus is the normalized result of one GetUserStatus call.
type UserStatus struct {
	Account quota.Account
	Quotas  []quota.ModelQuota
}

// Client issues the GetUserStatus RPC against a discovered connection.
type Client struct {
	host string
	http *http.Client
}

// NewClient builds a client pinned to 127.0.0.1.
func NewClient() *Client {
	return NewClientForHost(localHost)
}

// NewClientForHost builds a client for the given host. The server presents an
// ephemeral self-signed certificate, so certificate verification is skipped
// when — and only when — the host is exactly 127.0.0.1. Any other host gets a
// verifying client.
func NewClientForHost(host string) *Client {
	transport := &http.Transport{}
	if host == localHost {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Client{
		host: host,
		http: &http.Client{Timeout: requestTimeout, Transport: transport},
	}
}

// FetchUserStatus POSTs an empty JSON object to the GetUserStatus endpoint
// with the connection's CSRF token and parses the quota/account response.
func (c *Client) FetchUserStatus(ctx context.Context, conn locator.ConnectionInfo) (*UserStatus, error) {
	if !conn.Valid() {
		return nil, fmt.Errorf("%w: unusable connection info", ErrConnectionFailed)
	}

	url := fmt.Sprintf("https://%s:%d%s", c.host, conn.Port, rpcPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Connect-Protocol-Version", "1")
	req.Header.Set("X-Codeium-Csrf-Token", conn.CsrfToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrConnectionFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrConnectionFailed, resp.StatusCode, body)
	}

	var parsed getUserStatusResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", ErrConnectionFailed, err)
	}

	return &UserStatus{
		Account: parsed.account(),
		Quotas:  parsed.toModelQuotas(),
	}, nil
}

type getUserStatusResponse struct {
	UserStatus struct {
		Name                   string  `json:"name"`
		Email                  string  `json:"email"`
		TierName               string  `json:"tierName"`
		PlanName               string  `json:"planName"`
		PromptCreditsRemaining float64 `json:"promptCreditsRemaining"`
		FlowCreditsRemaining   float64 `json:"flowCreditsRemaining"`
		CascadeModelConfigData struct {
			ClientModelConfigs []clientModelConfig `json:"clientModelConfigs"`
		} `json:"cascadeModelConfigData"`
	} `json:"userStatus"`
}

type clientModelConfig struct {
	Label        string `json:"label"`
	ModelOrAlias struct {
		Model string `json:"model"`
	} `json:"modelOrAlias"`
	SupportsImages bool       `json:"supportsImages"`
	TagTitle       string     `json:"tagTitle"`
	QuotaInfo      *quotaInfo `json:"quotaInfo"`
}

type quotaInfo struct {
	RemainingFraction *float64 `json:"remainingFraction"`
	ResetTime         string   `json:"resetTime"`
}

func (r *getUserStatusResponse) account() quota.Account {
	u := r.UserStatus
	return quota.Account{
		UserName:      u.Name,
		UserEmail:     u.Email,
		TierName:      u.TierName,
		PlanName:      u.PlanName,
		PromptCredits: u.PromptCreditsRemaining,
		FlowCredits:   u.FlowCreditsRemaining,
	}
}

// toModelQuotas maps the nested config list into the normalized shape.
// Entries missing a label or quota block are dropped, not an error.
func (r *getUserStatusResponse) toModelQuotas() []quota.ModelQuota {
	configs := r.UserStatus.CascadeModelConfigData.ClientModelConfigs
	out := make([]quota.ModelQuota, 0, len(configs))
	for _, c := range configs {
		if c.Label == "" || c.QuotaInfo == nil {
			continue
		}
		key := c.ModelOrAlias.Model
		if key == "" {
			key = c.Label
		}
		q := quota.ModelQuota{
			ModelKey:          key,
			DisplayLabel:      c.Label,
			RemainingFraction: 1.0,
			SupportsImages:    c.SupportsImages,
			IsNew:             c.TagTitle == "New",
		}
		if c.QuotaInfo.RemainingFraction != nil {
			q.RemainingFraction = *c.QuotaInfo.RemainingFraction
		}
		if t, err := time.Parse(time.RFC3339, c.QuotaInfo.ResetTime); err == nil {
			q.ResetTime = &t
		}
		out = append(out, q)
	}
	return out
}
