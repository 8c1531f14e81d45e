package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	contractx "github.com/tanpawarit/Chative-Voice-Ordering/agent/contract"
	openrouterx "github.com/tanpawarit/Chative-Voice-Ordering/pkg/openrouter"
)

const (
	mintPath           = "realtime/sessions"
	SessionRoute       = "/api/realtime/session"
	maxMintBodyBytes   = 1 << 20
	defaultMintTimeout = 15 * time.Second
)

var (
	_ Minter = (*OpenAIMinter)(nil)
	_ Minter = (*HTTPMinter)(nil)
)

// OpenAIMinter mints ephemeral realtime credentials with the long-lived server key. It only
// runs server side.
type OpenAIMinter struct {
	client *openaisdk.Client
	model  string
	voice  string
	now    func() time.Time
}

func NewOpenAIMinter(cfg Config) (*OpenAIMinter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := openrouterx.NewClient(cfg.OpenAI())
	if client == nil {
		return nil, fmt.Errorf("%w: realtime client not configured", contractx.ErrValidation)
	}
	return newOpenAIMinter(client, cfg), nil
}

func newOpenAIMinter(client *openaisdk.Client, cfg Config) *OpenAIMinter {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	voice := strings.TrimSpace(cfg.Voice)
	if voice == "" {
		voice = DefaultVoice
	}
	return &OpenAIMinter{client: client, model: model, voice: voice, now: time.Now}
}

type mintRequest struct {
	Model string `json:"model"`
	Voice string `json:"voice,omitempty"`
}

type mintResponse struct {
	Model        string `json:"model"`
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

func (m *OpenAIMinter) Mint(ctx context.Context) (Credential, error) {
	var out mintResponse
	if err := m.client.Post(ctx, mintPath, mintRequest{Model: m.model, Voice: m.voice}, &out); err != nil {
		return Credential{}, fmt.Errorf("%w: mint realtime session: %v", contractx.ErrTransport, err)
	}

	token := strings.TrimSpace(out.ClientSecret.Value)
	if token == "" {
		return Credential{}, fmt.Errorf("%w: mint realtime session: empty client secret", contractx.ErrSchemaViolation)
	}

	model := strings.TrimSpace(out.Model)
	if model == "" {
		model = m.model
	}

	expiresAt := m.now().Add(time.Minute).UTC()
	if out.ClientSecret.ExpiresAt > 0 {
		expiresAt = time.Unix(out.ClientSecret.ExpiresAt, 0).UTC()
	}

	return Credential{Token: token, ExpiresAt: expiresAt, Model: model}, nil
}

// HTTPMinter asks the ordering server for a credential so the voice client never holds the
// long-lived key.
type HTTPMinter struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPMinter(baseURL string, client *http.Client) (*HTTPMinter, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("%w: server url is required", contractx.ErrValidation)
	}
	if client == nil {
		client = &http.Client{Timeout: defaultMintTimeout}
	}
	return &HTTPMinter{baseURL: trimmed, httpClient: client}, nil
}

func (m *HTTPMinter) Mint(ctx context.Context) (Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+SessionRoute, bytes.NewReader([]byte("{}")))
	if err != nil {
		return Credential{}, fmt.Errorf("build mint request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: mint request: %v", contractx.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMintBodyBytes))
	if err != nil {
		return Credential{}, fmt.Errorf("%w: read mint response: %v", contractx.ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Credential{}, fmt.Errorf("%w: mint status %d: %s", contractx.ErrTransport, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var cred Credential
	if err := json.Unmarshal(body, &cred); err != nil {
		return Credential{}, fmt.Errorf("%w: decode mint response: %v", contractx.ErrSchemaViolation, err)
	}
	if strings.TrimSpace(cred.Token) == "" {
		return Credential{}, fmt.Errorf("%w: mint response has no token", contractx.ErrSchemaViolation)
	}
	return cred, nil
}
