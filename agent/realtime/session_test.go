package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	cartx "github.com/tanpawarit/Chative-Voice-Ordering/agent/cart"
	contractx "github.com/tanpawarit/Chative-Voice-Ordering/agent/contract"
	menux "github.com/tanpawarit/Chative-Voice-Ordering/agent/menu"
	toolx "github.com/tanpawarit/Chative-Voice-Ordering/agent/tool"
)

type fakeMinter struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (m *fakeMinter) Mint(ctx context.Context) (Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return Credential{}, err
		}
	}
	return Credential{Token: "ek_test", ExpiresAt: time.Now().Add(time.Minute), Model: DefaultModel}, nil
}

type fakeChannel struct {
	mu        sync.Mutex
	sent      []any
	sendErr   error
	inbound   chan []byte
	recvErr   chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		inbound: make(chan []byte, 16),
		recvErr: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (c *fakeChannel) Send(event any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, event)
	return nil
}

func (c *fakeChannel) Receive() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case err := <-c.recvErr:
		return nil, err
	case <-c.closed:
		return nil, ErrChannelClosed
	}
}

func (c *fakeChannel) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeChannel) push(t *testing.T, event map[string]any) {
	t.Helper()
	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	c.inbound <- data
}

func (c *fakeChannel) events() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.sent...)
}

func (c *fakeChannel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type fakeDialer struct {
	mu       sync.Mutex
	err      error
	channels []*fakeChannel
}

func (d *fakeDialer) Dial(ctx context.Context, cred Credential) (Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	ch := newFakeChannel()
	d.channels = append(d.channels, ch)
	return ch, nil
}

func (d *fakeDialer) last() *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.channels) == 0 {
		return nil
	}
	return d.channels[len(d.channels)-1]
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.channels)
}

type fakeTrack struct {
	mu         sync.Mutex
	stopped    int
	inCallback bool
	capturing  *atomic.Bool
}

// Stop waits for a running audio callback to return, like a capture device does. A stop
// issued from inside the callback never sees it return and is recorded as re-entrant.
func (t *fakeTrack) Stop() error {
	reentrant := false
	if t.capturing != nil {
		deadline := time.Now().Add(200 * time.Millisecond)
		for t.capturing.Load() {
			if time.Now().After(deadline) {
				reentrant = true
				break
			}
			time.Sleep(time.Millisecond)
		}
	}

	t.mu.Lock()
	t.stopped++
	t.inCallback = t.inCallback || reentrant
	t.mu.Unlock()
	return nil
}

func (t *fakeTrack) stoppedInCallback() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inCallback
}

func (t *fakeTrack) stops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeMic struct {
	mu        sync.Mutex
	err       error
	track     *fakeTrack
	onAudio   func([]byte)
	capturing atomic.Bool
}

func (m *fakeMic) Open(ctx context.Context, onAudio func([]byte)) (Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.track = &fakeTrack{capturing: &m.capturing}
	m.onAudio = onAudio
	return m.track, nil
}

func (m *fakeMic) speak(pcm []byte) {
	m.mu.Lock()
	fn := m.onAudio
	m.mu.Unlock()
	if fn != nil {
		m.capturing.Store(true)
		fn(pcm)
		m.capturing.Store(false)
	}
}

type fakeSink struct {
	mu      sync.Mutex
	played  []byte
	cleared int
}

func (s *fakeSink) Play(pcm []byte) error {
	s.mu.Lock()
	s.played = append(s.played, pcm...)
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) Clear() {
	s.mu.Lock()
	s.cleared++
	s.mu.Unlock()
}

type harness struct {
	session *Session
	minter  *fakeMinter
	dialer  *fakeDialer
	mic     *fakeMic
	sink    *fakeSink

	mu        sync.Mutex
	finalized []contractx.FinalizedOrder
	statuses  []Status
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	catalog := menux.Default()
	h := &harness{
		minter: &fakeMinter{},
		dialer: &fakeDialer{},
		mic:    &fakeMic{},
		sink:   &fakeSink{},
	}
	session, err := NewSession(h.minter, h.dialer, h.mic, cartx.NewEngine(catalog),
		WithAudioSink(h.sink),
		WithSessionConfig(SessionConfig{
			Instructions: "voice prompt",
			Tools:        toolx.Definitions(catalog, contractx.Customizations{Milks: catalog.MilkNames()}),
		}),
		WithFinalizeHandler(func(order contractx.FinalizedOrder) {
			h.mu.Lock()
			h.finalized = append(h.finalized, order)
			h.mu.Unlock()
		}),
		WithStatusHandler(func(s Status) {
			h.mu.Lock()
			h.statuses = append(h.statuses, s)
			h.mu.Unlock()
		}),
	)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	h.session = session
	t.Cleanup(session.Disconnect)
	return h
}

func (h *harness) connect(t *testing.T) *fakeChannel {
	t.Helper()
	if err := h.session.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return h.dialer.last()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func countType[T any](events []any) int {
	n := 0
	for _, ev := range events {
		if _, ok := ev.(T); ok {
			n++
		}
	}
	return n
}

func TestConnectConfiguresSessionThenGreetsOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ch := h.connect(t)

	if got := h.session.Status().State; got != StateConnected {
		t.Fatalf("state = %s, want connected", got)
	}

	sent := ch.events()
	if len(sent) != 1 {
		t.Fatalf("expected only session.update before ack, got %d events", len(sent))
	}
	update, ok := sent[0].(sessionUpdate)
	if !ok {
		t.Fatalf("first event is %T, want sessionUpdate", sent[0])
	}
	if update.Session.Instructions != "voice prompt" || update.Session.Voice != DefaultVoice {
		t.Fatalf("unexpected session params: %#v", update.Session)
	}
	if update.Session.TurnDetection == nil || update.Session.TurnDetection.Type != DefaultTurnDetection {
		t.Fatalf("unexpected turn detection: %#v", update.Session.TurnDetection)
	}
	if len(update.Session.Tools) != 4 {
		t.Fatalf("expected 4 tools, got %d", len(update.Session.Tools))
	}

	ch.push(t, map[string]any{"type": EventSessionCreated})
	ch.push(t, map[string]any{"type": EventSessionUpdated})
	ch.push(t, map[string]any{"type": EventSessionUpdated})
	ch.push(t, map[string]any{"type": EventSpeechStarted})
	waitFor(t, "speech flag", func() bool { return h.session.Status().UserSpeaking })

	if n := countType[responseCreate](ch.events()); n != 1 {
		t.Fatalf("response.create sent %d times, want 1", n)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.statuses) < 2 || h.statuses[0].State != StateConnecting || h.statuses[1].State != StateConnected {
		t.Fatalf("unexpected status sequence: %#v", h.statuses)
	}
}

func TestConnectWhileConnectedIsRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.connect(t)

	err := h.session.Connect(context.Background())
	if !errors.Is(err, contractx.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if h.dialer.count() != 1 {
		t.Fatalf("dialed %d times, want 1", h.dialer.count())
	}
}

func TestMicrophoneDeniedIsDistinguished(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.mic.err = errors.Join(contractx.ErrMicrophoneDenied, errors.New("device busy"))

	err := h.session.Connect(context.Background())
	if !errors.Is(err, contractx.ErrMicrophoneDenied) {
		t.Fatalf("expected ErrMicrophoneDenied, got %v", err)
	}

	status := h.session.Status()
	if status.State != StateError || !status.MicrophoneDenied {
		t.Fatalf("unexpected status: %#v", status)
	}
	if h.dialer.count() != 0 {
		t.Fatal("session dialed despite denied microphone")
	}
}

func TestMintFailureIsGenericAndRetryable(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.minter.errs = []error{errors.New("upstream 500")}

	err := h.session.Connect(context.Background())
	if !errors.Is(err, contractx.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	status := h.session.Status()
	if status.State != StateError || status.MicrophoneDenied {
		t.Fatalf("unexpected status: %#v", status)
	}
	if !strings.Contains(status.Error, "upstream 500") {
		t.Fatalf("error message not captured: %q", status.Error)
	}

	h.connect(t)
	status = h.session.Status()
	if status.State != StateConnected || status.Error != "" {
		t.Fatalf("retry did not recover: %#v", status)
	}
}

func TestDialFailureReleasesMicrophone(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.dialer.err = errors.New("negotiation failed")

	if err := h.session.Connect(context.Background()); !errors.Is(err, contractx.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if h.mic.track == nil || h.mic.track.stops() != 1 {
		t.Fatal("microphone track not released after dial failure")
	}
	if h.session.Status().State != StateError {
		t.Fatalf("state = %s, want error", h.session.Status().State)
	}
}

func TestToolCallIsAppliedAndAcknowledged(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ch := h.connect(t)

	ch.push(t, map[string]any{
		"type":      EventFunctionCallArgsDone,
		"call_id":   "call_1",
		"name":      cartx.ToolAddItem,
		"arguments": `{"name":"Mocha","size":"Large","price":0.01}`,
	})
	waitFor(t, "acknowledgement", func() bool { return countType[responseCreate](ch.events()) == 1 })

	sent := ch.events()
	ack, ok := sent[1].(itemCreate)
	if !ok {
		t.Fatalf("second event is %T, want itemCreate", sent[1])
	}
	if ack.Item.Type != "function_call_output" || ack.Item.CallID != "call_1" {
		t.Fatalf("unexpected ack item: %#v", ack.Item)
	}
	if !strings.Contains(ack.Item.Output, `"Mocha"`) || strings.Contains(ack.Item.Output, "0.01") {
		t.Fatalf("ack does not carry the resolved cart: %s", ack.Item.Output)
	}
	if _, ok := sent[2].(responseCreate); !ok {
		t.Fatalf("third event is %T, want responseCreate", sent[2])
	}

	c := h.session.Cart()
	if len(c) != 1 || c[0].Price == nil || *c[0].Price != 5.50 {
		t.Fatalf("unexpected cart: %#v", c)
	}
}

func TestMalformedToolArgumentsStillAcknowledge(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ch := h.connect(t)

	ch.push(t, map[string]any{
		"type":      EventFunctionCallArgsDone,
		"call_id":   "call_bad",
		"name":      cartx.ToolAddItem,
		"arguments": `{"name":`,
	})
	waitFor(t, "acknowledgement", func() bool { return countType[itemCreate](ch.events()) == 1 })

	if len(h.session.Cart()) != 0 {
		t.Fatalf("malformed call changed cart: %#v", h.session.Cart())
	}
	if h.session.Status().State != StateConnected {
		t.Fatal("malformed arguments broke the session")
	}
}

func TestFinalizeIsSurfacedImmediately(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ch := h.connect(t)

	ch.push(t, map[string]any{"type": EventFunctionCallArgsDone, "call_id": "c1", "name": cartx.ToolAddItem, "arguments": `{"name":"Latte"}`})
	ch.push(t, map[string]any{"type": EventFunctionCallArgsDone, "call_id": "c2", "name": cartx.ToolFinalizeOrder, "arguments": `{"customer_name":"Sam"}`})
	waitFor(t, "finalize", func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.finalized) == 1
	})

	h.mu.Lock()
	order := h.finalized[0]
	h.mu.Unlock()
	if order.CustomerName != "Sam" || order.Source != contractx.SourceVoice {
		t.Fatalf("unexpected finalized order: %#v", order)
	}
	if len(order.Lines) != 1 || order.Lines[0].Name != "Latte" {
		t.Fatalf("unexpected finalized lines: %#v", order.Lines)
	}
}

func TestSpeakingFlagsFollowEvents(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ch := h.connect(t)

	ch.push(t, map[string]any{"type": EventSpeechStarted})
	waitFor(t, "user speaking", func() bool { return h.session.Status().UserSpeaking })
	ch.push(t, map[string]any{"type": EventSpeechStopped})
	waitFor(t, "user stopped", func() bool { return !h.session.Status().UserSpeaking })

	pcm := []byte{1, 2, 3, 4}
	ch.push(t, map[string]any{"type": EventAudioDelta, "delta": base64.StdEncoding.EncodeToString(pcm)})
	waitFor(t, "assistant speaking", func() bool { return h.session.Status().AssistantSpeaking })
	ch.push(t, map[string]any{"type": EventOutputAudioDelta, "delta": base64.StdEncoding.EncodeToString(pcm)})
	ch.push(t, map[string]any{"type": EventResponseDone})
	waitFor(t, "assistant done", func() bool { return !h.session.Status().AssistantSpeaking })

	h.sink.mu.Lock()
	played := len(h.sink.played)
	h.sink.mu.Unlock()
	if played != 8 {
		t.Fatalf("played %d bytes, want 8", played)
	}
}

func TestErrorEventTransitionsToError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ch := h.connect(t)

	ch.push(t, map[string]any{"type": EventError, "error": map[string]any{"type": "server_error", "message": "session expired"}})
	waitFor(t, "resources released", func() bool {
		return h.session.Status().State == StateError && ch.isClosed() && h.mic.track.stops() == 1
	})

	if status := h.session.Status(); !strings.Contains(status.Error, "session expired") {
		t.Fatalf("error message = %q", status.Error)
	}
}

func TestUnexpectedChannelClosureTransitionsToError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ch := h.connect(t)

	ch.recvErr <- errors.New("connection reset by peer")
	waitFor(t, "error state", func() bool { return h.session.Status().State == StateError })

	if !strings.Contains(h.session.Status().Error, "connection reset") {
		t.Fatalf("error message = %q", h.session.Status().Error)
	}
}

func TestDisconnectIsIdempotentAndReleasesResources(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.session.Disconnect()
	h.session.Disconnect()
	if h.session.Status().State != StateIdle {
		t.Fatal("disconnect from idle left a non-idle state")
	}

	ch := h.connect(t)
	ch.push(t, map[string]any{"type": EventSpeechStarted})
	waitFor(t, "user speaking", func() bool { return h.session.Status().UserSpeaking })

	h.session.Disconnect()
	h.session.Disconnect()

	status := h.session.Status()
	if status != (Status{State: StateIdle}) {
		t.Fatalf("flags not cleared: %#v", status)
	}
	if !ch.isClosed() {
		t.Fatal("channel left open")
	}
	if h.mic.track.stops() != 1 {
		t.Fatalf("track stopped %d times, want 1", h.mic.track.stops())
	}

	before := len(ch.events())
	h.mic.speak([]byte{9, 9})
	if len(ch.events()) != before {
		t.Fatal("audio forwarded after disconnect")
	}
	if h.session.Status().State != StateIdle {
		t.Fatal("stale read loop changed state after disconnect")
	}
}

func TestMicrophoneAudioForwardedWhileConnected(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ch := h.connect(t)

	h.mic.speak([]byte{0x10, 0x20})
	events := ch.events()
	frame, ok := events[len(events)-1].(audioAppend)
	if !ok {
		t.Fatalf("last event is %T, want audioAppend", events[len(events)-1])
	}
	if frame.Audio != base64.StdEncoding.EncodeToString([]byte{0x10, 0x20}) {
		t.Fatalf("unexpected audio payload: %q", frame.Audio)
	}
}

func TestFailedAudioSendReleasesMicrophoneOutsideCallback(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ch := h.connect(t)

	ch.mu.Lock()
	ch.sendErr = errors.New("broken pipe")
	ch.mu.Unlock()

	h.mic.speak([]byte{0x01, 0x02})
	waitFor(t, "resources released", func() bool {
		return h.session.Status().State == StateError && ch.isClosed() && h.mic.track.stops() == 1
	})

	if h.mic.track.stoppedInCallback() {
		t.Fatal("microphone track stopped from inside its own audio callback")
	}
	if !strings.Contains(h.session.Status().Error, "broken pipe") {
		t.Fatalf("error message = %q", h.session.Status().Error)
	}
}

func TestCartSurvivesReconnectUntilReset(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ch := h.connect(t)
	ch.push(t, map[string]any{"type": EventFunctionCallArgsDone, "call_id": "c1", "name": cartx.ToolAddItem, "arguments": `{"name":"Croissant"}`})
	waitFor(t, "cart line", func() bool { return len(h.session.Cart()) == 1 })

	h.session.Disconnect()
	h.connect(t)
	if len(h.session.Cart()) != 1 {
		t.Fatal("cart lost across reconnect")
	}

	h.session.Reset()
	if len(h.session.Cart()) != 0 {
		t.Fatal("reset did not clear cart")
	}
}

func TestNewSessionRequiresCollaborators(t *testing.T) {
	t.Parallel()

	if _, err := NewSession(nil, &fakeDialer{}, &fakeMic{}, nil); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation for nil minter, got %v", err)
	}
	if _, err := NewSession(&fakeMinter{}, nil, &fakeMic{}, nil); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation for nil dialer, got %v", err)
	}
	if _, err := NewSession(&fakeMinter{}, &fakeDialer{}, nil, nil); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation for nil microphone, got %v", err)
	}
}
