package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultTimeout = 15 * time.Second

// HTTPProvider talks to the identity provider's admin REST API.
type HTTPProvider struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewHTTPProvider returns a provider client for the given admin API base URL.
func NewHTTPProvider(baseURL, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

// VerifyExternalToken asks the provider to verify one of its own tokens.
// Returns (nil, nil) when the provider rejects the token; errors are reserved
// for transport failures.
func (p *HTTPProvider) VerifyExternalToken(ctx context.Context, token string) (*ExternalClaims, error) {
	var out struct {
		SubjectID string `json:"subject_id"`
		Email     string `json:"email"`
	}
	status, err := p.post(ctx, "/v1/tokens/verify", map[string]string{"token": token}, &out)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK || out.SubjectID == "" {
		return nil, nil
	}
	return &ExternalClaims{SubjectID: out.SubjectID, Email: out.Email}, nil
}

// RevokeRefreshTokens revokes the provider's own refresh tokens for the subject.
func (p *HTTPProvider) RevokeRefreshTokens(ctx context.Context, subjectID string) error {
	return p.subjectAction(ctx, subjectID, "revoke-refresh-tokens")
}

// DisableUser suspends the subject's account at the provider.
func (p *HTTPProvider) DisableUser(ctx context.Context, subjectID string) error {
	return p.subjectAction(ctx, subjectID, "disable")
}

// EnableUser lifts a suspension at the provider.
func (p *HTTPProvider) EnableUser(ctx context.Context, subjectID string) error {
	return p.subjectAction(ctx, subjectID, "enable")
}

func (p *HTTPProvider) subjectAction(ctx context.Context, subjectID, action string) error {
	if subjectID == "" {
		return fmt.Errorf("identity: subject id is required")
	}
	path := fmt.Sprintf("/v1/users/%s/%s", url.PathEscape(subjectID), action)
	status, err := p.post(ctx, path, nil, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return fmt.Errorf("identity: %s failed status=%d", action, status)
	}
	return nil
}

func (p *HTTPProvider) post(ctx context.Context, path string, body interface{}, out interface{}) (int, error) {
	if p.BaseURL == "" {
		return 0, fmt.Errorf("identity: base URL not configured")
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}
	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, nil
}
