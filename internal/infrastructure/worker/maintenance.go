package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/garyjia/po-workflow/internal/application/port"
	"github.com/garyjia/po-workflow/internal/domain/entity"
	"github.com/garyjia/po-workflow/internal/domain/workflow"
)

// MaintenanceConfig schedules the periodic housekeeping jobs
type MaintenanceConfig struct {
	// TokenSweepSpec and ReminderSpec are cron expressions; empty disables the job
	TokenSweepSpec string
	ReminderSpec   string
	// ReminderAge is how long an order waits in order_sent before its supplier is reminded
	ReminderAge   time.Duration
	ReminderBatch int
	// TokenRetention keeps expired tokens around this long before they are deleted
	TokenRetention time.Duration
}

// DefaultMaintenanceConfig returns default configuration
func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		TokenSweepSpec: "@hourly",
		ReminderSpec:   "0 8 * * *",
		ReminderAge:    72 * time.Hour,
		ReminderBatch:  100,
	}
}

// SupplierReminder re-sends a pending response link
type SupplierReminder interface {
	RemindSupplier(ctx context.Context, po *entity.PurchaseOrder, token string) error
}

// MaintenanceWorker expires response tokens and reminds suppliers of unanswered orders
type MaintenanceWorker struct {
	config   MaintenanceConfig
	orders   port.PurchaseOrderRepository
	tokens   port.TokenRepository
	reminder SupplierReminder
	logger   *zap.Logger
	now      func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewMaintenanceWorker creates a new maintenance worker
func NewMaintenanceWorker(
	config MaintenanceConfig,
	orders port.PurchaseOrderRepository,
	tokens port.TokenRepository,
	reminder SupplierReminder,
	logger *zap.Logger,
) *MaintenanceWorker {
	if config.ReminderBatch <= 0 {
		config.ReminderBatch = 100
	}
	return &MaintenanceWorker{
		config:   config,
		orders:   orders,
		tokens:   tokens,
		reminder: reminder,
		logger:   logger,
		now:      time.Now,
	}
}

func (w *MaintenanceWorker) Name() string {
	return "maintenance"
}

// Start schedules the jobs. They run with ctx until Stop is called.
func (w *MaintenanceWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cron != nil {
		return fmt.Errorf("maintenance worker already running")
	}

	logger := cronLogger{w.logger.Sugar()}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	if w.config.TokenSweepSpec != "" {
		if _, err := c.AddFunc(w.config.TokenSweepSpec, func() { _, _ = w.SweepTokens(ctx) }); err != nil {
			return fmt.Errorf("invalid token sweep schedule %q: %w", w.config.TokenSweepSpec, err)
		}
	}
	if w.config.ReminderSpec != "" && w.reminder != nil {
		if _, err := c.AddFunc(w.config.ReminderSpec, func() { _, _ = w.SendReminders(ctx) }); err != nil {
			return fmt.Errorf("invalid reminder schedule %q: %w", w.config.ReminderSpec, err)
		}
	}

	c.Start()
	w.cron = c

	w.logger.Info("Maintenance worker scheduled",
		zap.String("token_sweep", w.config.TokenSweepSpec),
		zap.String("reminders", w.config.ReminderSpec),
		zap.Int("jobs", len(c.Entries())))
	return nil
}

// Stop waits for running jobs to finish
func (w *MaintenanceWorker) Stop() error {
	w.mu.Lock()
	c := w.cron
	w.cron = nil
	w.mu.Unlock()

	if c == nil {
		return nil
	}
	<-c.Stop().Done()
	return nil
}

// SweepTokens deletes response tokens that expired before the retention window
func (w *MaintenanceWorker) SweepTokens(ctx context.Context) (int64, error) {
	before := w.now().Add(-w.config.TokenRetention)
	n, err := w.tokens.DeleteExpired(ctx, before)
	if err != nil {
		w.logger.Error("Token sweep failed", zap.Error(err))
		return 0, err
	}

	if n > 0 {
		w.logger.Info("Expired tokens deleted", zap.Int64("count", n))
	}
	return n, nil
}

// SendReminders emails suppliers whose orders have waited longer than ReminderAge.
// Orders without a live response token are skipped.
func (w *MaintenanceWorker) SendReminders(ctx context.Context) (int, error) {
	now := w.now()
	cutoff := now.Add(-w.config.ReminderAge)

	orders, err := w.orders.List(ctx, port.OrderFilter{
		Statuses:   []workflow.State{workflow.StateOrderSent},
		SentBefore: &cutoff,
		Limit:      w.config.ReminderBatch,
	})
	if err != nil {
		w.logger.Error("Failed to list orders awaiting response", zap.Error(err))
		return 0, err
	}

	sent := 0
	for _, po := range orders {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}

		tok, err := w.tokens.ActiveForOrder(ctx, po.ID, entity.TokenPurposeResponse, now)
		if err != nil {
			w.logger.Error("Failed to load response token", zap.Int64("order_id", po.ID), zap.Error(err))
			continue
		}
		if tok == nil {
			continue
		}

		if err := w.reminder.RemindSupplier(ctx, po, tok.Token); err != nil {
			w.logger.Error("Failed to remind supplier",
				zap.Int64("order_id", po.ID),
				zap.String("supplier_id", po.SupplierID),
				zap.Error(err))
			continue
		}
		sent++
	}

	w.logger.Info("Supplier reminders processed",
		zap.Int("candidates", len(orders)),
		zap.Int("sent", sent))
	return sent, nil
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
