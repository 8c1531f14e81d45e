package realtime

import (
	"strings"

	toolx "github.com/tanpawarit/Chative-Voice-Ordering/agent/tool"
)

// Outbound event types.
const (
	EventSessionUpdate     = "session.update"
	EventResponseCreate    = "response.create"
	EventItemCreate        = "conversation.item.create"
	EventInputAudioAppend  = "input_audio_buffer.append"
	itemFunctionCallOutput = "function_call_output"
	audioFormatPCM16       = "pcm16"
	toolChoiceAuto         = "auto"
	modalityAudio          = "audio"
	modalityText           = "text"
)

// Inbound event types.
const (
	EventSessionCreated       = "session.created"
	EventSessionUpdated       = "session.updated"
	EventSpeechStarted        = "input_audio_buffer.speech_started"
	EventSpeechStopped        = "input_audio_buffer.speech_stopped"
	EventAudioDelta           = "response.audio.delta"
	EventOutputAudioDelta     = "response.output_audio.delta"
	EventResponseDone         = "response.done"
	EventFunctionCallArgsDone = "response.function_call_arguments.done"
	EventError                = "error"
)

type sessionUpdate struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities        []string           `json:"modalities"`
	Instructions      string             `json:"instructions,omitempty"`
	Voice             string             `json:"voice"`
	InputAudioFormat  string             `json:"input_audio_format"`
	OutputAudioFormat string             `json:"output_audio_format"`
	TurnDetection     *turnDetection     `json:"turn_detection"`
	Tools             []toolx.Definition `json:"tools"`
	ToolChoice        string             `json:"tool_choice"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type responseCreate struct {
	Type string `json:"type"`
}

type itemCreate struct {
	Type string             `json:"type"`
	Item functionCallOutput `json:"item"`
}

type functionCallOutput struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// inboundEvent is a flat view over every server event the session reacts to.
type inboundEvent struct {
	Type      string      `json:"type"`
	Delta     string      `json:"delta,omitempty"`
	CallID    string      `json:"call_id,omitempty"`
	Name      string      `json:"name,omitempty"`
	Arguments string      `json:"arguments,omitempty"`
	Error     *eventError `json:"error,omitempty"`
}

type eventError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newSessionUpdate(cfg SessionConfig) sessionUpdate {
	cfg = cfg.withDefaults()

	var detection *turnDetection
	if !strings.EqualFold(cfg.TurnDetection, "none") {
		detection = &turnDetection{Type: cfg.TurnDetection}
	}

	tools := cfg.Tools
	if tools == nil {
		tools = []toolx.Definition{}
	}

	return sessionUpdate{
		Type: EventSessionUpdate,
		Session: sessionParams{
			Modalities:        []string{modalityAudio, modalityText},
			Instructions:      cfg.Instructions,
			Voice:             cfg.Voice,
			InputAudioFormat:  audioFormatPCM16,
			OutputAudioFormat: audioFormatPCM16,
			TurnDetection:     detection,
			Tools:             tools,
			ToolChoice:        toolChoiceAuto,
		},
	}
}

func newToolOutput(callID, output string) itemCreate {
	return itemCreate{
		Type: EventItemCreate,
		Item: functionCallOutput{
			Type:   itemFunctionCallOutput,
			CallID: callID,
			Output: output,
		},
	}
}
