package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/pgstore"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := app.NewLogger(cfg)
	ctx := context.Background()
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{ApplicationName: "odyssey-seed", ConnectTimeout: 10 * time.Second, MaxConns: cfg.PGMaxConns})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	// demo audits go through the worker queue when Redis is up, straight to audit_logs otherwise
	var audit posting.AuditPort = shared.NewAuditLogger(pool)
	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Warn("redis unavailable, writing audit logs directly", slog.Any("error", err))
	} else {
		defer redisClient.Close()
		queue := asynq.NewClient(cfg.Redis().AsynqOpt())
		defer queue.Close()
		audit = jobs.NewAuditDispatcher(queue)
	}

	err = run(ctx, seedParams{
		Config: cfg,
		Store:  pgstore.New(pool),
		Redis:  redisClient,
		Audit:  audit,
		Logger: logger,
		Out:    os.Stdout,
		Demo:   os.Getenv("SEED_DEMO") == "1",
	})
	if err != nil {
		log.Fatal(err)
	}
}

type seedParams struct {
	Config *app.Config
	Store  app.LedgerStore
	Redis  *redis.Client
	Audit  posting.AuditPort
	Logger *slog.Logger
	Out    io.Writer
	Demo   bool
}

// run seeds the canonical chart and, when asked, a demo invoice posted under
// the configured recognition basis.
func run(ctx context.Context, p seedParams) error {
	l := app.NewLedger(app.LedgerParams{
		Config: p.Config,
		Store:  p.Store,
		Redis:  p.Redis,
		Audit:  p.Audit,
		Logger: p.Logger,
	})

	fmt.Fprintln(p.Out, "→ Seeding canonical accounts...")
	created, err := l.Accounts.SeedDefaults(ctx)
	if err != nil {
		return fmt.Errorf("seed accounts: %w", err)
	}
	for _, acc := range created {
		fmt.Fprintf(p.Out, "  %s %s\n", acc.Code, acc.Name)
	}

	if p.Demo {
		fmt.Fprintf(p.Out, "→ Seeding demo invoice (%s basis)...\n", p.Config.RecognitionBasis())
		if err := seedDemo(ctx, p.Out, l.Engine); err != nil {
			return fmt.Errorf("seed demo: %w", err)
		}
	}

	fmt.Fprintln(p.Out, "✓ Seed complete at", time.Now().Format(time.RFC3339))
	return nil
}

// seedDemo posts an invoice of 11880 (10800 + 1080 GST) and half its payment by bank.
func seedDemo(ctx context.Context, out io.Writer, engine *posting.Engine) error {
	now := time.Now().UTC()
	_, err := engine.PostInvoice(ctx, posting.InvoicePosted{
		InvoiceID: "DEMO-0001",
		Total:     decimal.NewFromInt(11880),
		TaxAmount: decimal.NewFromInt(1080),
		SubTotal:  decimal.NewFromInt(10800),
		PostedAt:  now,
	})
	if errors.Is(err, ledger.ErrInvoiceAlreadyPosted) {
		fmt.Fprintln(out, "  demo invoice already posted")
		return nil
	}
	if err != nil {
		return err
	}
	_, err = engine.RecordPayment(ctx, posting.PaymentReceived{
		PaymentID:  "DEMO-PAY-0001",
		InvoiceID:  "DEMO-0001",
		Amount:     decimal.NewFromInt(5940),
		Method:     "bank",
		ReceivedAt: now,
	})
	return err
}
