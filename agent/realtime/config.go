package realtime

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Voice-Ordering/agent/contract"
	toolx "github.com/tanpawarit/Chative-Voice-Ordering/agent/tool"
	openrouterx "github.com/tanpawarit/Chative-Voice-Ordering/pkg/openrouter"
)

const (
	DefaultModel         = "gpt-4o-realtime-preview"
	DefaultVoice         = "alloy"
	DefaultTurnDetection = "server_vad"
	SampleRate           = 24000
)

// Config is the server-side minting configuration (REALTIME_ prefix).
type Config struct {
	BaseURL       string        `envconfig:"BASE_URL" split_words:"true" default:"https://api.openai.com/v1"`
	APIKey        string        `envconfig:"API_KEY" split_words:"true"`
	Model         string        `envconfig:"MODEL" split_words:"true" default:"gpt-4o-realtime-preview"`
	Voice         string        `envconfig:"VOICE" split_words:"true" default:"alloy"`
	TurnDetection string        `envconfig:"TURN_DETECTION" split_words:"true" default:"server_vad"`
	Timeout       time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"15s"`
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

func (c Config) Validate() error {
	if !c.Enabled() {
		return fmt.Errorf("%w: realtime api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: realtime model is required", contractx.ErrValidation)
	}
	return nil
}

// OpenAI returns the SDK configuration used to mint ephemeral credentials.
func (c Config) OpenAI() openrouterx.Config {
	return openrouterx.Config{
		BaseURL: strings.TrimSpace(c.BaseURL),
		APIKey:  strings.TrimSpace(c.APIKey),
		Model:   strings.TrimSpace(c.Model),
		Timeout: c.Timeout,
	}
}

// SessionConfig is what the session sends in session.update once the channel opens.
type SessionConfig struct {
	Instructions  string
	Voice         string
	TurnDetection string
	Tools         []toolx.Definition
}

func (c SessionConfig) withDefaults() SessionConfig {
	if strings.TrimSpace(c.Voice) == "" {
		c.Voice = DefaultVoice
	}
	if strings.TrimSpace(c.TurnDetection) == "" {
		c.TurnDetection = DefaultTurnDetection
	}
	return c
}
