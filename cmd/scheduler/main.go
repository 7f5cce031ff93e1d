package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/daylend/emi-engine/internal/config"
	"github.com/daylend/emi-engine/internal/repository"
	"github.com/daylend/emi-engine/internal/service"
	"github.com/daylend/emi-engine/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zlog, err := logger.New(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zlog.Sync()

	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		zlog.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	loanRepo := repository.NewLoanRepository(db)
	installmentRepo := repository.NewInstallmentRepository(db)
	txManager := repository.NewTxManager(db)

	overdueService := service.NewOverdueService(loanRepo, installmentRepo, txManager, cfg, zlog)
	reconcileService := service.NewReconcileService(loanRepo, installmentRepo, txManager, zlog)

	c := cron.New(cron.WithSeconds(), cron.WithLocation(cfg.GetLocation()))

	if err := setupCronJobs(c, cfg, overdueService, reconcileService, zlog); err != nil {
		zlog.Fatal("cron setup failed", zap.Error(err))
	}

	c.Start()
	zlog.Info("scheduler started",
		zap.String("sweep_spec", cfg.Scheduler.SweepSpec),
		zap.String("audit_spec", cfg.Scheduler.AuditSpec))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("shutting down scheduler")
	<-c.Stop().Done()
	zlog.Info("scheduler stopped")
}

func setupCronJobs(c *cron.Cron, cfg *config.Config, overdue *service.OverdueService, reconcile *service.ReconcileService, zlog *zap.Logger) error {
	// Daily: reclassify past-due installments and accrue penalties.
	_, err := c.AddFunc(cfg.Scheduler.SweepSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		penalized, err := overdue.RunSweep(ctx)
		if err != nil {
			zlog.Error("overdue sweep failed", zap.Error(err))
			return
		}
		zlog.Info("overdue sweep completed", zap.Int("penalized", penalized))
	})
	if err != nil {
		return err
	}

	// Weekly: report-only aggregate drift audit.
	_, err = c.AddFunc(cfg.Scheduler.AuditSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		drifts, err := reconcile.AuditLoans(ctx)
		if err != nil {
			zlog.Error("drift audit failed", zap.Error(err))
			return
		}
		zlog.Info("drift audit completed", zap.Int("drifted", len(drifts)))
	})

	return err
}
