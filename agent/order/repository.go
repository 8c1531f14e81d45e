package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	cartx "github.com/tanpawarit/Chative-Voice-Ordering/agent/cart"
	contractx "github.com/tanpawarit/Chative-Voice-Ordering/agent/contract"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

var ErrOrderNotFound = errors.New("order not found")

var referenceNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:chative-voice-ordering:orders"))

type Config struct {
	DSN         string        `envconfig:"DSN" split_words:"true"`
	Timeout     time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"5s"`
	AutoMigrate bool          `envconfig:"AUTO_MIGRATE" split_words:"true" default:"true"`
}

// Enabled reports whether a database is configured.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.DSN) != ""
}

// Order is the stored row of a finalized order.
type Order struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID           string     `bun:"id,pk"`
	CustomerName string     `bun:"customer_name,notnull"`
	Lines        cartx.Cart `bun:"lines,type:jsonb"`
	Total        float64    `bun:"total,notnull"`
	Source       string     `bun:"source"`
	CreatedAt    time.Time  `bun:"created_at,notnull"`
}

func (o Order) Stored() contractx.StoredOrder {
	return contractx.StoredOrder{
		ID:           o.ID,
		CustomerName: o.CustomerName,
		Lines:        o.Lines,
		Total:        o.Total,
		Source:       o.Source,
		CreatedAt:    o.CreatedAt,
	}
}

// NewDB opens a Postgres handle through pgdriver.
func NewDB(cfg Config) (*bun.DB, error) {
	if !cfg.Enabled() {
		return nil, errors.New("database dsn is required")
	}
	opts := []pgdriver.Option{pgdriver.WithDSN(strings.TrimSpace(cfg.DSN))}
	if cfg.Timeout > 0 {
		opts = append(opts, pgdriver.WithTimeout(cfg.Timeout))
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(opts...))
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

func EnsureSchema(ctx context.Context, db bun.IDB) error {
	if _, err := db.NewCreateTable().Model((*Order)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create orders table: %w", err)
	}
	return nil
}

var _ contractx.OrderRepository = (*Repository)(nil)

// Repository stores finalized orders. Lines are rebuilt through the cart engine before they
// are written, so off-menu lines and client-supplied prices never reach the table.
type Repository struct {
	db     bun.IDB
	engine contractx.ToolApplier
	now    func() time.Time
}

func NewRepository(db bun.IDB, engine contractx.ToolApplier) *Repository {
	if engine == nil {
		engine = cartx.NewEngine(nil)
	}
	return &Repository{db: db, engine: engine, now: time.Now}
}

func (r *Repository) Save(ctx context.Context, order contractx.FinalizedOrder) (string, error) {
	stored, err := r.Place(ctx, order)
	if err != nil {
		return "", err
	}
	return stored.ID, nil
}

// Place stores the order and returns it as written. An order carrying a reference that was
// already stored returns the stored row instead of inserting again.
func (r *Repository) Place(ctx context.Context, order contractx.FinalizedOrder) (contractx.StoredOrder, error) {
	lines := r.reprice(order.Lines)
	if len(lines) == 0 {
		return contractx.StoredOrder{}, fmt.Errorf("%w: order has no valid lines", contractx.ErrValidation)
	}

	name := strings.TrimSpace(order.CustomerName)
	if name == "" {
		name = cartx.DefaultCustomerName
	}
	source := strings.TrimSpace(order.Source)
	if source == "" {
		source = contractx.SourceText
	}

	row := &Order{
		ID:           orderID(order.Reference),
		CustomerName: name,
		Lines:        lines,
		Total:        lines.Total(),
		Source:       source,
		CreatedAt:    r.now().UTC(),
	}
	res, err := r.db.NewInsert().Model(row).On("CONFLICT (id) DO NOTHING").Exec(ctx)
	if err != nil {
		return contractx.StoredOrder{}, fmt.Errorf("insert order: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return r.Get(ctx, row.ID)
	}
	return row.Stored(), nil
}

func orderID(reference string) string {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(referenceNamespace, []byte(reference)).String()
}

func (r *Repository) Get(ctx context.Context, id string) (contractx.StoredOrder, error) {
	row := new(Order)
	err := r.db.NewSelect().Model(row).Where("o.id = ?", strings.TrimSpace(id)).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return contractx.StoredOrder{}, fmt.Errorf("%w: id=%s", ErrOrderNotFound, id)
	}
	if err != nil {
		return contractx.StoredOrder{}, fmt.Errorf("select order: %w", err)
	}
	return row.Stored(), nil
}

func (r *Repository) reprice(lines cartx.Cart) cartx.Cart {
	out := cartx.Cart{}
	for _, l := range lines {
		args := map[string]any{
			"name":     l.Name,
			"quantity": l.Quantity,
		}
		if l.Size != "" {
			args["size"] = l.Size
		}
		if l.Milk != "" {
			args["milk"] = l.Milk
		}
		if l.Temperature != "" {
			args["temperature"] = l.Temperature
		}
		if l.Extras != nil {
			args["extras"] = append([]string(nil), l.Extras...)
		}
		out = r.engine.Apply(out, cartx.ToolAddItem, args).Cart
	}
	return out
}
