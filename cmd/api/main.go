package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"fx-backoffice/internal/accounts"
	"fx-backoffice/internal/audit"
	"fx-backoffice/internal/auth"
	"fx-backoffice/internal/config"
	"fx-backoffice/internal/cregis"
	"fx-backoffice/internal/db"
	"fx-backoffice/internal/events"
	"fx-backoffice/internal/funding"
	"fx-backoffice/internal/health"
	"fx-backoffice/internal/httpserver"
	"fx-backoffice/internal/idempotency"
	"fx-backoffice/internal/mt5"
	"fx-backoffice/internal/notify"
	"fx-backoffice/internal/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	var logger *zap.Logger
	if cfg.AppMode == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		logger.Fatal("database connect failed", zap.Error(err))
	}
	defer pool.Close()

	var gateway mt5.Gateway
	gatewayMode := "disabled"
	if cfg.MT5APIURL != "" {
		gateway = mt5.NewClient(cfg.MT5APIURL, cfg.MT5APIToken, cfg.MT5Timeout, logger)
		gatewayMode = "live"
	} else {
		gateway = mt5.NewDisabledGateway()
		logger.Warn("MT5_API_URL not set, trading-ledger gateway disabled")
	}

	payments := cregis.NewClient(cregis.Options{
		BaseURL:     cfg.CregisAPIURL,
		ProjectID:   cfg.CregisProjectID,
		APIKey:      cfg.CregisAPIKey,
		CallbackURL: cfg.CregisCallbackURL,
		SuccessURL:  cfg.CregisSuccessURL,
		CancelURL:   cfg.CregisCancelURL,
		OrderTTL:    cfg.CregisOrderTTL,
	}, logger)
	paymentsMode := "disabled"
	if payments.Enabled() {
		paymentsMode = "live"
	}

	var idem idempotency.Store
	if cfg.RedisAddr != "" {
		idem = idempotency.NewRedisStore(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
	} else {
		mem := idempotency.NewMemoryStore()
		defer mem.Close()
		idem = mem
		logger.Warn("REDIS_ADDR not set, using in-process idempotency store")
	}

	var auditor audit.Recorder = audit.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		kr := audit.NewKafkaRecorder(cfg.KafkaBrokers, cfg.KafkaAuditTopic, logger)
		defer kr.Close()
		auditor = kr
	}

	notifier := notify.NewTelegram(pool, cfg.TelegramBotToken, cfg.AlertChatID, logger)

	bus := events.NewBus()
	wallets := wallet.NewService(pool)
	store := funding.NewPGStore(pool, wallets)
	accountSvc := accounts.NewService(pool, gateway, logger)
	authSvc := auth.NewService(pool, cfg.JWTIssuer, []byte(cfg.JWTSecret), cfg.JWTTTL)

	engine := funding.NewEngine(funding.EngineConfig{
		Store:       store,
		Gateway:     gateway,
		Accounts:    accountSvc,
		Payments:    payments,
		Notifier:    notifier,
		Auditor:     auditor,
		Idempotency: idem,
		Bus:         bus,
		TransferMin: cfg.TransferMin,
		TransferMax: cfg.TransferMax,
		CallbackKey: cfg.CregisAPIKey,
		Logger:      logger,
	})

	startedAt := time.Now().UTC()
	router := httpserver.NewRouter(httpserver.RouterDeps{
		AuthHandler:     auth.NewHandler(authSvc),
		AccountsHandler: accounts.NewHandler(accountSvc),
		FundingHandler:  funding.NewHandler(engine),
		AdminHandler:    funding.NewAdminHandler(engine),
		CallbackHandler: funding.NewCallbackHandler(engine),
		HealthHandler:   health.NewHandler(pool, startedAt, gatewayMode, paymentsMode, cfg.HTTPAddr, cfg.InternalToken),
		AuthService:     authSvc,
		InternalToken:   cfg.InternalToken,
		WSHandler:       httpserver.NewWSHandler(bus, authSvc, cfg.WSOrigin),
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	logger.Info("server starting",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("gateway", gatewayMode),
		zap.String("payments", paymentsMode))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
