package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	orchestratorx "github.com/tanpawarit/Chative-Voice-Ordering/agent/agents/orchestrator"
	"github.com/tanpawarit/Chative-Voice-Ordering/agent/agents/ordering"
	cartx "github.com/tanpawarit/Chative-Voice-Ordering/agent/cart"
	contractx "github.com/tanpawarit/Chative-Voice-Ordering/agent/contract"
	"github.com/tanpawarit/Chative-Voice-Ordering/agent/handler"
	llmx "github.com/tanpawarit/Chative-Voice-Ordering/agent/llm"
	menux "github.com/tanpawarit/Chative-Voice-Ordering/agent/menu"
	orderx "github.com/tanpawarit/Chative-Voice-Ordering/agent/order"
	promptx "github.com/tanpawarit/Chative-Voice-Ordering/agent/prompt"
	realtimex "github.com/tanpawarit/Chative-Voice-Ordering/agent/realtime"
	statex "github.com/tanpawarit/Chative-Voice-Ordering/agent/state"
	configx "github.com/tanpawarit/Chative-Voice-Ordering/pkg/config"
	_ "github.com/tanpawarit/Chative-Voice-Ordering/pkg/logger/autoload"
	qstashx "github.com/tanpawarit/Chative-Voice-Ordering/pkg/qstash"
	"github.com/uptrace/bun"
)

type AppConfig struct {
	Addr            string        `envconfig:"ADDR" default:":8080"`
	ShutdownTimeout time.Duration `split_words:"true" default:"10s"`
	StateBackend    string        `split_words:"true" default:"memory"`
	MaxMessages     int           `split_words:"true" default:"40"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appCfg := configx.MustNew[AppConfig]("HTTP")
	menuCfg := configx.MustNew[promptx.MenuConfig]("MENU")

	catalog := menux.Default()
	customizations := promptx.NewStaticCustomizations(catalog, *menuCfg)

	llmCfg := configx.MustNew[llmx.Config]("LLM")
	runner, err := ordering.NewFromConfig(ctx, *llmCfg, catalog, customizations)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize ordering agent")
	}

	store := mustStateStore(appCfg.StateBackend)

	deps := handler.Deps{
		Catalog:        catalog,
		Customizations: customizations,
		Runner:         runner,
	}

	var orders contractx.OrderRepository
	orderCfg := configx.MustNew[orderx.Config]("DATABASE")
	if orderCfg.Enabled() {
		db := mustOrderDB(ctx, *orderCfg)
		defer db.Close()

		repo := orderx.NewRepository(db, cartx.NewEngine(catalog))
		orders = repo
		deps.Orders = repo
	} else {
		log.Warn().Msg("DATABASE_DSN not set, finalized orders are not persisted")
	}

	var kitchen contractx.KitchenNotifier
	qstashCfg := configx.MustNew[qstashx.Config]("QSTASH")
	if qstashCfg.Enabled() {
		client, err := qstashx.NewClient(*qstashCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize qstash client")
		}
		k := orderx.NewKitchen(client)
		kitchen = k
		deps.Kitchen = k
	}

	conversations, err := orchestratorx.New(store, runner, orders, kitchen, orchestratorx.Config{MaxMessages: appCfg.MaxMessages})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize orchestrator")
	}
	deps.Conversations = conversations

	realtimeCfg := configx.MustNew[realtimex.Config]("REALTIME")
	if realtimeCfg.Enabled() {
		minter, err := realtimex.NewOpenAIMinter(*realtimeCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize realtime minter")
		}
		deps.Minter = minter
	}

	server := &http.Server{
		Addr:              appCfg.Addr,
		Handler:           handler.New(deps).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", appCfg.Addr).Msg("ordering server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), appCfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("server stopped")
}

func mustStateStore(backend string) statex.Store {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "upstash":
		cfg := configx.MustNew[statex.UpstashRedisConfig]("UPSTASH_REDIS")
		store, err := statex.NewUpstashRedisStore(*cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize upstash state store")
		}
		return store
	case "memory", "":
		return statex.NewMemoryStore()
	default:
		log.Fatal().Str("backend", backend).Msg("unknown state backend")
		return nil
	}
}

func mustOrderDB(ctx context.Context, cfg orderx.Config) *bun.DB {
	db, err := orderx.NewDB(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open order database")
	}
	if cfg.AutoMigrate {
		migrateCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		if err := orderx.EnsureSchema(migrateCtx, db); err != nil {
			log.Fatal().Err(err).Msg("failed to ensure order schema")
		}
	}
	return db
}
