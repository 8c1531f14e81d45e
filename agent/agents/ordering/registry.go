package ordering

import (
	"context"
	"fmt"

	cartx "github.com/tanpawarit/Chative-Voice-Ordering/agent/cart"
	contractx "github.com/tanpawarit/Chative-Voice-Ordering/agent/contract"
	llmx "github.com/tanpawarit/Chative-Voice-Ordering/agent/llm"
	menux "github.com/tanpawarit/Chative-Voice-Ordering/agent/menu"
	promptx "github.com/tanpawarit/Chative-Voice-Ordering/agent/prompt"
	toolx "github.com/tanpawarit/Chative-Voice-Ordering/agent/tool"
)

// NewFromConfig wires the OpenRouter chat model, the rendered instructions and the tool schema
// for what is on offer right now.
func NewFromConfig(
	ctx context.Context,
	cfg llmx.Config,
	catalog *menux.Catalog,
	source contractx.CustomizationSource,
) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if catalog == nil {
		catalog = menux.Default()
	}
	if source == nil {
		source = promptx.NewStaticCustomizations(catalog, promptx.MenuConfig{})
	}

	custom, err := source.EnabledCustomizations(ctx)
	if err != nil {
		return nil, fmt.Errorf("load enabled customizations: %w", err)
	}

	instructions, err := promptx.Render(ctx, promptx.LoadPromptSet().Ordering, promptx.Vars(catalog, custom))
	if err != nil {
		return nil, err
	}

	modelCfg := cfg.OpenRouter()
	chatModel, err := modelCfg.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: create ordering model: %v", contractx.ErrModelInvoke, err)
	}

	return New(ctx, chatModel, toolx.Infos(catalog, custom), cartx.NewEngine(catalog), instructions, cfg.Iterations())
}
