package orchestrator

import (
	"go.opentelemetry.io/otel"
)

const scopeName = "github.com/tanpawarit/Chative-Voice-Ordering/agent/agents/orchestrator"

var tracer = otel.Tracer(scopeName)
