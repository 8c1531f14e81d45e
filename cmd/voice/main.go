package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	cartx "github.com/tanpawarit/Chative-Voice-Ordering/agent/cart"
	contractx "github.com/tanpawarit/Chative-Voice-Ordering/agent/contract"
	menux "github.com/tanpawarit/Chative-Voice-Ordering/agent/menu"
	orderx "github.com/tanpawarit/Chative-Voice-Ordering/agent/order"
	promptx "github.com/tanpawarit/Chative-Voice-Ordering/agent/prompt"
	realtimex "github.com/tanpawarit/Chative-Voice-Ordering/agent/realtime"
	toolx "github.com/tanpawarit/Chative-Voice-Ordering/agent/tool"
	configx "github.com/tanpawarit/Chative-Voice-Ordering/pkg/config"
	_ "github.com/tanpawarit/Chative-Voice-Ordering/pkg/logger/autoload"
	"github.com/tanpawarit/Chative-Voice-Ordering/pkg/miniaudio"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type VoiceConfig struct {
	ServerURL     string        `split_words:"true" default:"http://localhost:8080"`
	WebsocketURL  string        `split_words:"true" default:"wss://api.openai.com/v1/realtime"`
	Voice         string        `split_words:"true" default:"alloy"`
	TurnDetection string        `split_words:"true" default:"server_vad"`
	Timeout       time.Duration `split_words:"true" default:"15s"`
}

const microphoneHint = "Microphone access was denied. Allow microphone access for this terminal in your OS privacy settings and run again."

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("voice client stopped")
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := configx.MustNew[VoiceConfig]("VOICE")
	menuCfg := configx.MustNew[promptx.MenuConfig]("MENU")

	catalog := menux.Default()
	sessionCfg, err := buildSessionConfig(ctx, catalog, *menuCfg, *cfg)
	if err != nil {
		return err
	}

	httpClient := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	minter, err := realtimex.NewHTTPMinter(cfg.ServerURL, httpClient)
	if err != nil {
		return err
	}
	orders, err := orderx.NewClient(cfg.ServerURL, httpClient)
	if err != nil {
		return err
	}

	device, err := miniaudio.NewDevice(realtimex.SampleRate)
	if err != nil {
		return err
	}
	defer device.Close()

	speaker, err := device.NewSpeaker()
	if err != nil {
		return err
	}
	defer speaker.Close()

	var submissions sync.WaitGroup
	session, err := realtimex.NewSession(
		minter,
		realtimex.NewWebsocketDialer(cfg.WebsocketURL),
		microphone{device: device},
		cartx.NewEngine(catalog),
		realtimex.WithSessionConfig(sessionCfg),
		realtimex.WithAudioSink(speaker),
		realtimex.WithStatusHandler(printStatus),
		realtimex.WithFinalizeHandler(func(order contractx.FinalizedOrder) {
			submissions.Add(1)
			go func() {
				defer submissions.Done()
				submit(orders, order)
			}()
		}),
	)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.Connect(ctx); err != nil {
		if errors.Is(err, contractx.ErrMicrophoneDenied) {
			fmt.Fprintln(os.Stderr, microphoneHint)
		}
		return err
	}

	fmt.Println("Connected. Start talking to place your order. Press Ctrl+C to hang up.")
	<-ctx.Done()

	session.Disconnect()
	submissions.Wait()
	return nil
}

func buildSessionConfig(ctx context.Context, catalog *menux.Catalog, menuCfg promptx.MenuConfig, cfg VoiceConfig) (realtimex.SessionConfig, error) {
	custom, err := promptx.NewStaticCustomizations(catalog, menuCfg).EnabledCustomizations(ctx)
	if err != nil {
		return realtimex.SessionConfig{}, err
	}
	instructions, err := promptx.Render(ctx, promptx.LoadPromptSet().Voice, promptx.Vars(catalog, custom))
	if err != nil {
		return realtimex.SessionConfig{}, err
	}
	return realtimex.SessionConfig{
		Instructions:  instructions,
		Voice:         cfg.Voice,
		TurnDetection: cfg.TurnDetection,
		Tools:         toolx.Definitions(catalog, custom),
	}, nil
}

func submit(orders *orderx.Client, order contractx.FinalizedOrder) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	stored, err := orders.Place(ctx, order)
	if err != nil {
		log.Error().Err(err).Str("customer", order.CustomerName).Msg("order submission failed")
		fmt.Println("Sorry, the order could not be placed. Please try again at the counter.")
		return
	}
	fmt.Printf("Order %s placed for %s: $%.2f\n", stored.ID, stored.CustomerName, stored.Total)
}

func printStatus(s realtimex.Status) {
	event := log.Info().
		Str("state", string(s.State)).
		Bool("user_speaking", s.UserSpeaking).
		Bool("assistant_speaking", s.AssistantSpeaking)
	if s.Error != "" {
		event = event.Str("error", s.Error).Bool("microphone_denied", s.MicrophoneDenied)
	}
	event.Msg("voice session status")
}

// microphone adapts the malgo capture device to the session's Microphone.
type microphone struct {
	device *miniaudio.Device
}

func (m microphone) Open(ctx context.Context, onAudio func([]byte)) (realtimex.Track, error) {
	capture, err := m.device.StartCapture(onAudio)
	if err != nil {
		if errors.Is(err, miniaudio.ErrAccessDenied) {
			return nil, fmt.Errorf("%w: %v", contractx.ErrMicrophoneDenied, err)
		}
		return nil, err
	}
	return capture, nil
}
