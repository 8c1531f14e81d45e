package ordering

import (
	"context"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

const cartPreamble = "Current cart as JSON. cart_index is the zero-based position of a line in this list:\n{cart}"

// compileTurnGraph builds the single agent round trip: instructions, the cart snapshot and the
// running history go in, one assistant message comes out.
func compileTurnGraph(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
) (compose.Runnable[map[string]any, *schema.Message], error) {
	template := einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{instructions}"),
		schema.SystemMessage(cartPreamble),
		schema.MessagesPlaceholder("history", false),
	)

	graph := compose.NewGraph[map[string]any, *schema.Message]()
	if err := graph.AddChatTemplateNode("prompt", template); err != nil {
		return nil, fmt.Errorf("add turn prompt node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add turn model node: %w", err)
	}
	if err := graph.AddEdge(compose.START, "prompt"); err != nil {
		return nil, fmt.Errorf("add turn edge start->prompt: %w", err)
	}
	if err := graph.AddEdge("prompt", "model"); err != nil {
		return nil, fmt.Errorf("add turn edge prompt->model: %w", err)
	}
	if err := graph.AddEdge("model", compose.END); err != nil {
		return nil, fmt.Errorf("add turn edge model->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("ordering.turn_graph"))
	if err != nil {
		return nil, fmt.Errorf("compile ordering turn graph: %w", err)
	}
	return runner, nil
}
