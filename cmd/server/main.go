package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/daylend/emi-engine/internal/config"
	"github.com/daylend/emi-engine/internal/handler"
	"github.com/daylend/emi-engine/internal/notify"
	"github.com/daylend/emi-engine/internal/repository"
	"github.com/daylend/emi-engine/internal/service"
	"github.com/daylend/emi-engine/pkg/logger"
	"github.com/daylend/emi-engine/pkg/response"
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

	db, err := initDB(cfg)
	if err != nil {
		zlog.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	redisClient := initRedis(cfg)
	defer redisClient.Close()

	// Repositories
	loanRepo := repository.NewLoanRepository(db)
	installmentRepo := repository.NewInstallmentRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	txManager := repository.NewTxManager(db)

	// Broadcast transport lives for the whole process; the emitter gets
	// it injected, never reaches for a global.
	broadcaster := notify.NewRedisBroadcaster(redisClient, cfg.Business.BroadcastChannel)
	emitter := notify.NewService(notificationRepo, broadcaster, zlog)

	// Services
	scheduleService := service.NewScheduleService(loanRepo, installmentRepo, txManager, emitter, cfg, zlog)
	paymentService := service.NewPaymentService(loanRepo, installmentRepo, txManager, emitter, redisClient, cfg, zlog)
	overdueService := service.NewOverdueService(loanRepo, installmentRepo, txManager, cfg, zlog)
	reconcileService := service.NewReconcileService(loanRepo, installmentRepo, txManager, zlog)
	autopayService := service.NewAutopayService(loanRepo, emitter, cfg, zlog)

	// Handlers
	loanHandler := handler.NewLoanHandler(scheduleService, reconcileService, emitter)
	paymentHandler := handler.NewPaymentHandler(paymentService, autopayService)
	opsHandler := handler.NewOpsHandler(overdueService, reconcileService, db, redisClient)

	router := setupRoutes(loanHandler, paymentHandler, opsHandler, zlog)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		zlog.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		zlog.Fatal("server forced to shutdown", zap.Error(err))
	}

	zlog.Info("server exited")
}

func initDB(cfg *config.Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	return db, nil
}

func initRedis(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func setupRoutes(loans *handler.LoanHandler, payments *handler.PaymentHandler, ops *handler.OpsHandler, zlog *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(response.LoggingMiddleware(zlog))

	router.HandleFunc("/health", ops.Health).Methods("GET")
	router.HandleFunc("/health/ready", ops.Ready).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/loans", loans.CreateLoan).Methods("POST")
	api.HandleFunc("/loans/{loanId}", loans.GetLoan).Methods("GET")
	api.HandleFunc("/loans/{loanId}", loans.DeleteLoan).Methods("DELETE")
	api.HandleFunc("/loans/{loanId}/approve", loans.ApproveLoan).Methods("POST")
	api.HandleFunc("/loans/{loanId}/reject", loans.RejectLoan).Methods("POST")
	api.HandleFunc("/loans/{loanId}/schedule", loans.GetSchedule).Methods("GET")
	api.HandleFunc("/loans/{loanId}/notifications", loans.ListNotifications).Methods("GET")
	api.HandleFunc("/loans/{loanId}/reconcile", loans.ReconcileLoan).Methods("POST")

	api.HandleFunc("/borrowers/{borrowerId}/loans", loans.ListBorrowerLoans).Methods("GET")

	api.HandleFunc("/loans/{loanId}/autopay", payments.RequestAutopay).Methods("POST")
	api.HandleFunc("/loans/{loanId}/autopay/pause", payments.PauseAutopay).Methods("POST")
	api.HandleFunc("/loans/{loanId}/autopay/cancel", payments.CancelAutopay).Methods("POST")

	api.HandleFunc("/installments/{installmentId}/settle", payments.SettleInstallment).Methods("POST")
	api.HandleFunc("/installments/{installmentId}/simulate", payments.SimulateSettlement).Methods("POST")

	api.HandleFunc("/webhooks/payment", payments.PaymentWebhook).Methods("POST")
	api.HandleFunc("/webhooks/subscription", payments.SubscriptionWebhook).Methods("POST")

	api.HandleFunc("/ops/overdue-sweep", ops.RunOverdueSweep).Methods("POST")
	api.HandleFunc("/ops/audit", ops.RunAudit).Methods("POST")

	return router
}
