package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	orchestratorx "github.com/tanpawarit/Chative-Voice-Ordering/agent/agents/orchestrator"
	cartx "github.com/tanpawarit/Chative-Voice-Ordering/agent/cart"
	contractx "github.com/tanpawarit/Chative-Voice-Ordering/agent/contract"
	menux "github.com/tanpawarit/Chative-Voice-Ordering/agent/menu"
	orderx "github.com/tanpawarit/Chative-Voice-Ordering/agent/order"
	realtimex "github.com/tanpawarit/Chative-Voice-Ordering/agent/realtime"
	statex "github.com/tanpawarit/Chative-Voice-Ordering/agent/state"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxBodyBytes = 1 << 20

var errNotConfigured = errors.New("not configured")

// Conversations runs stateful text turns.
type Conversations interface {
	HandleMessage(ctx context.Context, conversationID string, text string) (orchestratorx.Reply, error)
}

// Orders stores finalized orders and reads them back.
type Orders interface {
	Place(ctx context.Context, order contractx.FinalizedOrder) (contractx.StoredOrder, error)
	Get(ctx context.Context, id string) (contractx.StoredOrder, error)
}

// Deps wires the HTTP surface. Nil collaborators turn their endpoints into 503 responses.
type Deps struct {
	Catalog        *menux.Catalog
	Customizations contractx.CustomizationSource
	Runner         contractx.TurnRunner
	Conversations  Conversations
	Minter         realtimex.Minter
	Orders         Orders
	Kitchen        contractx.KitchenNotifier
}

type Handler struct {
	deps Deps
}

func New(deps Deps) *Handler {
	if deps.Catalog == nil {
		deps.Catalog = menux.Default()
	}
	return &Handler{deps: deps}
}

// Routes returns the API mux wrapped with request tracing and access logging.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.health)
	mux.HandleFunc("GET /api/menu", h.menu)
	mux.HandleFunc("POST /api/chat", h.chat)
	mux.HandleFunc("POST /api/conversations/{id}/messages", h.conversationMessage)
	mux.HandleFunc("POST "+realtimex.SessionRoute, h.realtimeSession)
	mux.HandleFunc("POST "+orderx.OrdersRoute, h.placeOrder)
	mux.HandleFunc("GET "+orderx.OrdersRoute+"/{id}", h.getOrder)

	return otelhttp.NewHandler(logRequests(mux), "ordering-api")
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type menuItem struct {
	Name        string   `json:"name"`
	SmallPrice  float64  `json:"small_price"`
	LargePrice  float64  `json:"large_price,omitempty"`
	Food        bool     `json:"food,omitempty"`
	IcedOnly    bool     `json:"iced_only,omitempty"`
	AcceptsMilk bool     `json:"accepts_milk,omitempty"`
	Sizes       []string `json:"sizes,omitempty"`
}

type menuResponse struct {
	Items  []menuItem `json:"items"`
	Milks  []string   `json:"milks"`
	Syrups []string   `json:"syrups"`
	Extras []string   `json:"extras"`
}

func (h *Handler) menu(w http.ResponseWriter, r *http.Request) {
	catalog := h.deps.Catalog
	custom := contractx.Customizations{Milks: catalog.MilkNames(), Syrups: catalog.SyrupNames()}
	if h.deps.Customizations != nil {
		enabled, err := h.deps.Customizations.EnabledCustomizations(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		custom = enabled
	}

	items := make([]menuItem, 0, len(catalog.Items()))
	for _, it := range catalog.Items() {
		item := menuItem{
			Name:        it.Name,
			SmallPrice:  it.SmallPrice,
			Food:        it.Food,
			IcedOnly:    it.IcedOnly,
			AcceptsMilk: it.AcceptsMilk,
		}
		if !it.Food {
			item.LargePrice = it.LargePrice
			item.Sizes = []string{menux.SizeSmall, menux.SizeLarge}
		}
		items = append(items, item)
	}

	writeJSON(w, http.StatusOK, menuResponse{
		Items:  items,
		Milks:  nonNil(custom.Milks),
		Syrups: nonNil(custom.Syrups),
		Extras: nonNil(catalog.FixedExtraNames()),
	})
}

type chatResponse struct {
	Text     string          `json:"text"`
	Cart     cartx.Cart      `json:"cart"`
	Total    float64         `json:"total"`
	Finalize *cartx.Finalize `json:"finalize,omitempty"`
}

func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	if h.deps.Runner == nil {
		writeError(w, errNotConfigured)
		return
	}

	var req contractx.TurnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, fmt.Errorf("%w: messages are required", contractx.ErrValidation))
		return
	}

	resp, err := h.deps.Runner.Run(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	c := resp.Cart
	if c == nil {
		c = cartx.Cart{}
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Text:     resp.Text,
		Cart:     c,
		Total:    c.Total(),
		Finalize: resp.Finalize,
	})
}

type messageRequest struct {
	Text string `json:"text"`
}

type messageResponse struct {
	Reply   string     `json:"reply"`
	Cart    cartx.Cart `json:"cart"`
	Total   float64    `json:"total"`
	OrderID string     `json:"order_id,omitempty"`
	Closed  bool       `json:"closed"`
}

func (h *Handler) conversationMessage(w http.ResponseWriter, r *http.Request) {
	if h.deps.Conversations == nil {
		writeError(w, errNotConfigured)
		return
	}

	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	id := r.PathValue("id")
	reply, err := h.deps.Conversations.HandleMessage(r.Context(), id, req.Text)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", id).Msg("conversation turn failed")
		writeError(w, err)
		return
	}

	c := reply.Cart
	if c == nil {
		c = cartx.Cart{}
	}
	writeJSON(w, http.StatusOK, messageResponse{
		Reply:   reply.Reply,
		Cart:    c,
		Total:   reply.Total,
		OrderID: reply.OrderID,
		Closed:  reply.Closed,
	})
}

func (h *Handler) realtimeSession(w http.ResponseWriter, r *http.Request) {
	if h.deps.Minter == nil {
		writeError(w, errNotConfigured)
		return
	}

	cred, err := h.deps.Minter.Mint(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("realtime credential minting failed")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cred)
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	if h.deps.Orders == nil {
		writeError(w, errNotConfigured)
		return
	}

	var req contractx.FinalizedOrder
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Source) == "" {
		req.Source = contractx.SourceVoice
	}

	stored, err := h.deps.Orders.Place(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	if h.deps.Kitchen != nil {
		if err := h.deps.Kitchen.Notify(r.Context(), stored); err != nil {
			log.Warn().Err(err).Str("order_id", stored.ID).Msg("kitchen notification failed")
		}
	}

	log.Info().Str("order_id", stored.ID).Str("source", stored.Source).Float64("total", stored.Total).Msg("order placed")
	writeJSON(w, http.StatusCreated, stored)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	if h.deps.Orders == nil {
		writeError(w, errNotConfigured)
		return
	}

	stored, err := h.deps.Orders.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", contractx.ErrValidation, err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return fmt.Errorf("%w: request body is empty", contractx.ErrValidation)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: decode body: %v", contractx.ErrValidation, err)
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps domain errors to status codes. Upstream failures get a generic message.
func writeError(w http.ResponseWriter, err error) {
	status, msg := http.StatusInternalServerError, "internal error"

	switch {
	case errors.Is(err, errNotConfigured):
		status, msg = http.StatusServiceUnavailable, "service not configured"
	case errors.Is(err, contractx.ErrValidation),
		errors.Is(err, orchestratorx.ErrInvalidMessage),
		errors.Is(err, orchestratorx.ErrInvalidConversation),
		errors.Is(err, statex.ErrInvalidSession):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, contractx.ErrConversationClosed):
		status, msg = http.StatusConflict, "conversation already finalized"
	case errors.Is(err, orderx.ErrOrderNotFound):
		status, msg = http.StatusNotFound, "order not found"
	case errors.Is(err, contractx.ErrModelInvoke),
		errors.Is(err, contractx.ErrTransport),
		errors.Is(err, contractx.ErrSchemaViolation):
		status, msg = http.StatusBadGateway, "upstream service unavailable"
	}

	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("write response")
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
