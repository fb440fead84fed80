package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chamapay/internal/config"
	"chamapay/internal/database"
	"chamapay/internal/events"
	"chamapay/internal/gateway"
	"chamapay/internal/handler"
	"chamapay/internal/notify"
	"chamapay/internal/service"
	"chamapay/internal/store"
	"chamapay/internal/worker"
)

func main() {
	cfg := config.New()

	var st store.Store
	if cfg.DatabaseURI == "" {
		slog.Warn("DATABASE_URI not set, using in-memory store")
		st = store.NewMemory()
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		db, err := database.NewDB(ctx, cfg.DatabaseURI)
		cancel()
		if err != nil {
			slog.Error("failed to connect to DB", "error", err)
			os.Exit(1)
		}
		defer database.CloseDB(db)

		if err := database.InitSchema(db); err != nil {
			slog.Error("failed to init DB schema", "error", err)
			os.Exit(1)
		}
		st = database.NewStore(db)
	}

	var pub events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers)
		defer func() {
			if err := kp.Close(); err != nil {
				slog.Error("failed to close kafka writer", "error", err)
			}
		}()
		pub = kp
	}

	notifier := notify.LogNotifier{}

	// Gateway
	tokens := gateway.NewTokenCache(cfg.GatewayURL, cfg.ConsumerKey, cfg.ConsumerSecret,
		&http.Client{Timeout: cfg.GatewayTimeout})
	gw := gateway.NewClient(gateway.Config{
		BaseURL:            cfg.GatewayURL,
		InitiatorName:      cfg.InitiatorName,
		SecurityCredential: cfg.SecurityCredential,
		ShortCode:          cfg.ShortCode,
		ResultURL:          cfg.ResultURL(),
		TimeoutURL:         cfg.TimeoutURL(),
		Timeout:            cfg.GatewayTimeout,
	}, tokens)

	// Services
	policy := service.ApprovalPolicy{Threshold: cfg.ApprovalThreshold, ApproverName: cfg.ApproverName}
	if cfg.ApproverPhone != "" {
		phone, err := service.NormalizePhone(cfg.ApproverPhone)
		if err != nil {
			slog.Error("invalid approver phone", "error", err)
			os.Exit(1)
		}
		policy.ApproverPhone = phone
	}

	authSvc := service.NewAuthService(st)
	accountSvc := service.NewAccountService(st)
	otpGate := service.NewOTPGate(st, notifier, cfg.OTPTTL)
	disbursementSvc := service.NewDisbursementService(st, otpGate, gw, notifier, policy)
	approvalSvc := service.NewApprovalService(st, notifier, disbursementSvc, cfg.OTPTTL)
	reconciler := service.NewReconciler(st, notifier, pub)

	if cfg.AdminLogin != "" {
		err := authSvc.EnsureAdmin(context.Background(), service.RegisterRequest{
			Login:    cfg.AdminLogin,
			Password: cfg.AdminPassword,
			Name:     cfg.AdminName,
			Phone:    cfg.AdminPhone,
		})
		if err != nil {
			slog.Error("failed to bootstrap admin", "error", err)
			os.Exit(1)
		}
	}

	// Worker
	sweeper := worker.NewSweeper(st, pub, cfg.SweepInterval, cfg.StaleAfter)

	// Router
	r := handler.NewRouter(handler.Services{
		Auth:        authSvc,
		Accounts:    accountSvc,
		Withdrawals: disbursementSvc,
		Approvals:   approvalSvc,
		OTP:         otpGate,
		Reconciler:  reconciler,
	}, cfg.JWTSecret, cfg.CallbackToken)

	srv := &http.Server{
		Addr:         cfg.RunAddress,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.GatewayTimeout + 10*time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go sweeper.Start(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	slog.Info("starting server", "addr", cfg.RunAddress)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-quit
	slog.Info("shutting down...")

	cancel() // stop worker
	ctxShut, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShut()

	if err := srv.Shutdown(ctxShut); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}

	slog.Info("server stopped")
}
