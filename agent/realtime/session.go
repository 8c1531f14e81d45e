package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	cartx "github.com/tanpawarit/Chative-Voice-Ordering/agent/cart"
	contractx "github.com/tanpawarit/Chative-Voice-Ordering/agent/contract"
)

type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateError      State = "error"
)

// Credential is a short-lived token minted by a trusted server.
type Credential struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Model     string    `json:"model"`
}

// Minter obtains an ephemeral credential for one connect attempt.
type Minter interface {
	Mint(ctx context.Context) (Credential, error)
}

// Channel is the structured event channel of an open session.
type Channel interface {
	Send(event any) error
	Receive() ([]byte, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, cred Credential) (Channel, error)
}

// Microphone opens a capture track delivering PCM16 mono frames. Implementations return an
// error wrapping contract.ErrMicrophoneDenied when access is refused.
type Microphone interface {
	Open(ctx context.Context, onAudio func(pcm []byte)) (Track, error)
}

type Track interface {
	Stop() error
}

// AudioSink plays assistant audio.
type AudioSink interface {
	Play(pcm []byte) error
	Clear()
}

// Status is a snapshot of the session state and its speaking flags.
type Status struct {
	State             State  `json:"state"`
	UserSpeaking      bool   `json:"user_speaking"`
	AssistantSpeaking bool   `json:"assistant_speaking"`
	Error             string `json:"error,omitempty"`
	MicrophoneDenied  bool   `json:"microphone_denied,omitempty"`
}

type Option func(*Session)

func WithSessionConfig(cfg SessionConfig) Option {
	return func(s *Session) {
		s.config = cfg.withDefaults()
	}
}

func WithAudioSink(sink AudioSink) Option {
	return func(s *Session) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithFinalizeHandler registers the callback receiving a finalized order as soon as the
// agent calls finalize_order.
func WithFinalizeHandler(fn func(contractx.FinalizedOrder)) Option {
	return func(s *Session) {
		s.onFinalize = fn
	}
}

func WithStatusHandler(fn func(Status)) Option {
	return func(s *Session) {
		s.onStatus = fn
	}
}

// Session drives one realtime voice conversation through idle, connecting, connected and
// error. Tool calls arriving on the channel mutate a cart owned by the session.
type Session struct {
	minter Minter
	dialer Dialer
	mic    Microphone
	engine contractx.ToolApplier
	sink   AudioSink
	config SessionConfig

	onFinalize func(contractx.FinalizedOrder)
	onStatus   func(Status)

	mu                sync.Mutex
	state             State
	generation        uint64
	channel           Channel
	track             Track
	greeted           bool
	userSpeaking      bool
	assistantSpeaking bool
	errMessage        string
	micDenied         bool
	cart              cartx.Cart
}

func NewSession(minter Minter, dialer Dialer, mic Microphone, engine contractx.ToolApplier, opts ...Option) (*Session, error) {
	if minter == nil {
		return nil, fmt.Errorf("%w: realtime minter is required", contractx.ErrValidation)
	}
	if dialer == nil {
		return nil, fmt.Errorf("%w: realtime dialer is required", contractx.ErrValidation)
	}
	if mic == nil {
		return nil, fmt.Errorf("%w: microphone is required", contractx.ErrValidation)
	}
	if engine == nil {
		engine = cartx.NewEngine(nil)
	}

	s := &Session{
		minter: minter,
		dialer: dialer,
		mic:    mic,
		engine: engine,
		sink:   discardSink{},
		config: SessionConfig{}.withDefaults(),
		state:  StateIdle,
		cart:   cartx.Cart{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() Status {
	return Status{
		State:             s.state,
		UserSpeaking:      s.userSpeaking,
		AssistantSpeaking: s.assistantSpeaking,
		Error:             s.errMessage,
		MicrophoneDenied:  s.micDenied,
	}
}

// Cart returns a copy of the session cart.
func (s *Session) Cart() cartx.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Clone()
}

// Reset empties the cart. The cart otherwise survives disconnects and retries.
func (s *Session) Reset() {
	s.mu.Lock()
	s.cart = cartx.Cart{}
	s.mu.Unlock()
}

// Connect moves idle or error to connecting and then to connected once the channel is
// writable and configured. Any failure on the way lands in error with resources released.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateConnected {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: connect while %s", contractx.ErrInvalidTransition, state)
	}
	s.generation++
	gen := s.generation
	s.state = StateConnecting
	s.errMessage = ""
	s.micDenied = false
	s.greeted = false
	s.userSpeaking = false
	s.assistantSpeaking = false
	status := s.statusLocked()
	s.mu.Unlock()
	s.notify(status)

	cred, err := s.minter.Mint(ctx)
	if err != nil {
		return s.fail(gen, fmt.Errorf("%w: mint credential: %v", contractx.ErrTransport, err))
	}

	track, err := s.mic.Open(ctx, func(pcm []byte) { s.forwardAudio(gen, pcm) })
	if err != nil {
		if errors.Is(err, contractx.ErrMicrophoneDenied) {
			return s.fail(gen, err)
		}
		return s.fail(gen, fmt.Errorf("%w: open microphone: %v", contractx.ErrTransport, err))
	}

	channel, err := s.dialer.Dial(ctx, cred)
	if err != nil {
		stopTrack(track)
		return s.fail(gen, fmt.Errorf("%w: open session: %v", contractx.ErrTransport, err))
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		stopTrack(track)
		closeChannel(channel)
		return fmt.Errorf("%w: session disconnected while connecting", contractx.ErrInvalidTransition)
	}
	s.channel = channel
	s.track = track
	s.mu.Unlock()

	if err := channel.Send(newSessionUpdate(s.config)); err != nil {
		return s.fail(gen, fmt.Errorf("%w: configure session: %v", contractx.ErrTransport, err))
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return fmt.Errorf("%w: session disconnected while connecting", contractx.ErrInvalidTransition)
	}
	s.state = StateConnected
	status = s.statusLocked()
	s.mu.Unlock()
	s.notify(status)

	log.Info().Str("state", string(StateConnected)).Str("model", cred.Model).Msg("realtime session connected")

	go s.readLoop(gen, channel)
	return nil
}

// Disconnect releases the microphone and the channel and returns to idle. It is safe to call
// from any state and any number of times.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.generation++
	channel, track := s.channel, s.track
	s.channel, s.track = nil, nil
	wasIdle := s.state == StateIdle
	s.state = StateIdle
	s.greeted = false
	s.userSpeaking = false
	s.assistantSpeaking = false
	s.errMessage = ""
	s.micDenied = false
	status := s.statusLocked()
	s.mu.Unlock()

	stopTrack(track)
	closeChannel(channel)
	s.sink.Clear()

	if !wasIdle {
		log.Info().Str("state", string(StateIdle)).Msg("realtime session disconnected")
		s.notify(status)
	}
}

// Close tears the session down.
func (s *Session) Close() error {
	s.Disconnect()
	return nil
}

func (s *Session) fail(gen uint64, err error) error {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return err
	}
	s.generation++
	channel, track := s.channel, s.track
	s.channel, s.track = nil, nil
	s.state = StateError
	s.errMessage = err.Error()
	s.micDenied = errors.Is(err, contractx.ErrMicrophoneDenied)
	s.greeted = false
	s.userSpeaking = false
	s.assistantSpeaking = false
	status := s.statusLocked()
	s.mu.Unlock()

	stopTrack(track)
	closeChannel(channel)
	s.sink.Clear()

	log.Error().Err(err).Str("state", string(StateError)).Bool("microphone_denied", status.MicrophoneDenied).Msg("realtime session failed")
	s.notify(status)
	return err
}

func (s *Session) readLoop(gen uint64, channel Channel) {
	for {
		data, err := channel.Receive()
		if err != nil {
			_ = s.fail(gen, fmt.Errorf("%w: realtime channel closed: %v", contractx.ErrTransport, err))
			return
		}
		if !s.handleEvent(gen, channel, data) {
			return
		}
	}
}

// handleEvent processes one inbound event. It returns false once the session generation
// that owns channel has ended.
func (s *Session) handleEvent(gen uint64, channel Channel, data []byte) bool {
	var ev inboundEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Warn().Err(err).Msg("realtime event undecodable, ignoring")
		return s.current(gen)
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return false
	}

	changed := false
	switch ev.Type {
	case EventSessionCreated:
		s.mu.Unlock()
		log.Debug().Msg("realtime session created")
		return true

	case EventSessionUpdated:
		greet := !s.greeted
		s.greeted = true
		s.mu.Unlock()
		if greet {
			s.send(gen, channel, responseCreate{Type: EventResponseCreate})
		}
		return true

	case EventSpeechStarted:
		changed = !s.userSpeaking
		s.userSpeaking = true

	case EventSpeechStopped:
		changed = s.userSpeaking
		s.userSpeaking = false

	case EventAudioDelta, EventOutputAudioDelta:
		changed = !s.assistantSpeaking
		s.assistantSpeaking = true
		status := s.statusLocked()
		s.mu.Unlock()
		if changed {
			s.notify(status)
		}
		s.play(ev.Delta)
		return true

	case EventResponseDone:
		changed = s.assistantSpeaking
		s.assistantSpeaking = false

	case EventFunctionCallArgsDone:
		s.mu.Unlock()
		s.handleToolCall(gen, channel, ev)
		return true

	case EventError:
		s.mu.Unlock()
		msg := "realtime error"
		if ev.Error != nil && strings.TrimSpace(ev.Error.Message) != "" {
			msg = ev.Error.Message
		}
		_ = s.fail(gen, fmt.Errorf("%w: %s", contractx.ErrTransport, msg))
		return false

	default:
		s.mu.Unlock()
		log.Trace().Str("event", ev.Type).Msg("realtime event ignored")
		return true
	}

	status := s.statusLocked()
	s.mu.Unlock()
	if changed {
		s.notify(status)
	}
	return true
}

func (s *Session) handleToolCall(gen uint64, channel Channel, ev inboundEvent) {
	args, err := cartx.DecodeArgs(ev.Arguments)
	if err != nil {
		log.Warn().Err(err).Str("tool", ev.Name).Str("call_id", ev.CallID).Msg("realtime tool arguments unparseable, using empty arguments")
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	res := s.engine.Apply(s.cart, ev.Name, args)
	s.cart = res.Cart
	if s.cart == nil {
		s.cart = cartx.Cart{}
	}
	lines := s.cart.Clone()
	s.mu.Unlock()

	log.Debug().
		Str("tool", ev.Name).
		Str("call_id", ev.CallID).
		Int("cart_lines", len(lines)).
		Msg("realtime tool applied")

	if res.Finalize != nil && s.onFinalize != nil {
		s.onFinalize(contractx.FinalizedOrder{
			CustomerName: res.Finalize.CustomerName,
			Lines:        lines,
			Source:       contractx.SourceVoice,
		})
	}

	if !s.send(gen, channel, newToolOutput(ev.CallID, res.Ack())) {
		return
	}
	s.send(gen, channel, responseCreate{Type: EventResponseCreate})
}

func (s *Session) forwardAudio(gen uint64, pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	s.mu.Lock()
	if s.generation != gen || s.state != StateConnected || s.channel == nil {
		s.mu.Unlock()
		return
	}
	channel := s.channel
	s.mu.Unlock()

	err := channel.Send(audioAppend{
		Type:  EventInputAudioAppend,
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
	if err != nil {
		// Runs on the capture device's callback; the track cannot be stopped from here.
		go s.fail(gen, fmt.Errorf("%w: send audio: %v", contractx.ErrTransport, err))
	}
}

func (s *Session) send(gen uint64, channel Channel, event any) bool {
	if err := channel.Send(event); err != nil {
		_ = s.fail(gen, fmt.Errorf("%w: send event: %v", contractx.ErrTransport, err))
		return false
	}
	return true
}

func (s *Session) play(delta string) {
	if delta == "" {
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(delta)
	if err != nil {
		log.Warn().Err(err).Msg("realtime audio delta undecodable")
		return
	}
	if err := s.sink.Play(pcm); err != nil {
		log.Warn().Err(err).Msg("realtime audio playback failed")
	}
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation == gen
}

func (s *Session) notify(status Status) {
	if s.onStatus != nil {
		s.onStatus(status)
	}
}

func stopTrack(track Track) {
	if track == nil {
		return
	}
	if err := track.Stop(); err != nil {
		log.Warn().Err(err).Msg("stop microphone track")
	}
}

func closeChannel(channel Channel) {
	if channel == nil {
		return
	}
	if err := channel.Close(); err != nil {
		log.Debug().Err(err).Msg("close realtime channel")
	}
}

type discardSink struct{}

func (discardSink) Play([]byte) error { return nil }
func (discardSink) Clear()            {}
