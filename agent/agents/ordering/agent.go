package ordering

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	cartx "github.com/tanpawarit/Chative-Voice-Ordering/agent/cart"
	contractx "github.com/tanpawarit/Chative-Voice-Ordering/agent/contract"
	llmx "github.com/tanpawarit/Chative-Voice-Ordering/agent/llm"
)

var _ contractx.TurnRunner = (*Agent)(nil)

// Agent runs the text-mode loop: ask the model, apply its tool calls to the cart, feed the
// acknowledgements back and repeat until it answers without tools or the cap is reached.
type Agent struct {
	runner        compose.Runnable[map[string]any, *schema.Message]
	engine        contractx.ToolApplier
	instructions  string
	maxIterations int
}

func New(
	ctx context.Context,
	chatModel einomodel.ToolCallingChatModel,
	tools []*schema.ToolInfo,
	engine contractx.ToolApplier,
	instructions string,
	maxIterations int,
) (*Agent, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("%w: chat model is required", contractx.ErrValidation)
	}
	if engine == nil {
		engine = cartx.NewEngine(nil)
	}
	if maxIterations <= 0 {
		maxIterations = llmx.DefaultMaxIterations
	}

	toolModel, err := chatModel.WithTools(tools)
	if err != nil {
		return nil, fmt.Errorf("%w: bind ordering tools: %v", contractx.ErrModelInvoke, err)
	}
	runner, err := compileTurnGraph(ctx, toolModel)
	if err != nil {
		return nil, fmt.Errorf("%w: compile ordering graph: %v", contractx.ErrModelInvoke, err)
	}

	return &Agent{
		runner:        runner,
		engine:        engine,
		instructions:  strings.TrimSpace(instructions),
		maxIterations: maxIterations,
	}, nil
}

func (a *Agent) Run(ctx context.Context, req contractx.TurnRequest) (contractx.TurnResponse, error) {
	current := req.Cart.Clone()
	if current == nil {
		current = cartx.Cart{}
	}
	history := toHistory(req.Messages)

	var (
		texts      []string
		finalize   *cartx.Finalize
		iterations int
	)

	for {
		if iterations == a.maxIterations {
			log.Debug().Int("iteration", iterations).Msg("ordering turn reached iteration cap")
			break
		}
		iterations++

		snapshot, err := json.Marshal(current)
		if err != nil {
			return contractx.TurnResponse{}, fmt.Errorf("%w: marshal cart: %v", contractx.ErrValidation, err)
		}

		msg, err := a.runner.Invoke(ctx, map[string]any{
			"instructions": a.instructions,
			"cart":         string(snapshot),
			"history":      history,
		})
		if err != nil {
			return contractx.TurnResponse{}, fmt.Errorf("%w: ordering turn invoke: %v", contractx.ErrModelInvoke, err)
		}
		if msg == nil {
			break
		}

		if text := strings.TrimSpace(msg.Content); text != "" {
			texts = append(texts, text)
		}
		if len(msg.ToolCalls) == 0 {
			break
		}

		calls := withCallIDs(msg.ToolCalls)
		history = append(history, schema.AssistantMessage(msg.Content, calls))

		for _, call := range calls {
			res := a.engine.Apply(current, call.Function.Name, parseArgs(call))
			current = res.Cart
			if res.Finalize != nil {
				finalize = res.Finalize
			}

			log.Debug().
				Str("tool", call.Function.Name).
				Int("iteration", iterations).
				Int("cart_lines", len(current)).
				Msg("ordering tool applied")

			history = append(history, schema.ToolMessage(res.Ack(), call.ID))
		}
	}

	return contractx.TurnResponse{
		Text:       strings.Join(texts, "\n\n"),
		Cart:       current,
		Finalize:   finalize,
		Iterations: iterations,
	}, nil
}

func toHistory(messages []contractx.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		switch m.Role {
		case contractx.RoleAssistant:
			out = append(out, schema.AssistantMessage(content, nil))
		default:
			out = append(out, schema.UserMessage(content))
		}
	}
	return out
}

// parseArgs never fails: unparseable arguments are treated as empty.
func parseArgs(call schema.ToolCall) map[string]any {
	args, err := cartx.DecodeArgs(call.Function.Arguments)
	if err != nil {
		log.Warn().Err(err).Str("tool", call.Function.Name).Msg("ordering tool arguments unparseable, using empty arguments")
	}
	return args
}

func withCallIDs(calls []schema.ToolCall) []schema.ToolCall {
	out := make([]schema.ToolCall, len(calls))
	copy(out, calls)
	for i := range out {
		if strings.TrimSpace(out[i].ID) == "" {
			out[i].ID = "call_" + uuid.NewString()
		}
	}
	return out
}
