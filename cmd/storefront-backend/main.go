package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"storefront-backend/internal/config"
	"storefront-backend/internal/env"
	"storefront-backend/internal/infrastructure/cache"
	"storefront-backend/internal/infrastructure/mail"
	"storefront-backend/internal/infrastructure/repo"
	"storefront-backend/internal/metrics"
	"storefront-backend/internal/server"
	"storefront-backend/internal/usecase"
)

const serviceName = "storefront-backend"

// store is what both persistence backends provide.
type store interface {
	usecase.TxManager
	usecase.ProductStore
	usecase.OrderStore
	usecase.OTPStore
	usecase.UserStore
	usecase.CartStore
	usecase.CategoryStore
}

func main() {
	env.Load(".env", ".env.local")
	envDefaults := config.EnvDefaults()

	envName := flag.String("env", envDefaults.Env, "")
	port := flag.Int("port", envDefaults.Port, "")
	dsn := flag.String("database-url", envDefaults.DatabaseURL, "")
	jwtSecret := flag.String("jwt-secret", envDefaults.JWTSecret, "")
	logJSON := flag.Bool("log-json", envDefaults.LogJSON, "")
	redisAddr := flag.String("redis", envDefaults.RedisAddr, "")
	brokers := flag.String("kafka-brokers", strings.Join(envDefaults.KafkaBrokers, ","), "")
	outbox := flag.String("mail-outbox", envDefaults.MailOutbox, "")

	flag.Parse()

	cfg := envDefaults
	cfg.Env = *envName
	cfg.Port = *port
	cfg.DatabaseURL = *dsn
	cfg.JWTSecret = *jwtSecret
	cfg.LogJSON = *logJSON
	cfg.RedisAddr = *redisAddr
	cfg.KafkaBrokers = config.SplitList(*brokers)
	cfg.MailOutbox = *outbox
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	shutdownTracing := initTracing()
	defer shutdownTracing()

	ctx := context.Background()
	reg := metrics.NewRegistry()

	var (
		st    store
		ready func(context.Context) error
	)
	if cfg.DatabaseURL != "" {
		pg, err := repo.OpenPostgres(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("Failed to initialize database", zap.Error(err))
		}
		defer pg.Close()
		st, ready = pg, pg.Ping
	} else {
		logger.Warn("no database configured, using in-memory store")
		st = repo.NewMemoryStore()
	}

	inventory := &usecase.InventoryService{Products: st, Logger: logger}
	if cfg.RedisAddr != "" {
		rdb, err := cache.InitRedis(ctx, cfg.RedisAddr, logger)
		if err != nil {
			logger.Fatal("Failed to initialize redis", zap.Error(err))
		}
		defer rdb.Close()
		inventory.Cache = cache.NewAvailabilityCache(rdb, 0)
	}

	senders := []mail.Sender{&mail.LogMailer{Logger: logger}}
	if cfg.MailOutbox != "" {
		senders = append(senders, mail.NewFileMailer(cfg.MailOutbox))
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := mail.NewProducer(cfg.KafkaBrokers)
		if err != nil {
			logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
		}
		km := mail.NewKafkaMailer(producer, cfg.KafkaTopic, logger)
		defer km.Close()
		senders = append(senders, km)
	}
	mailer := mail.NewMultiMailer(senders...)

	otp := &usecase.OTPService{
		Tx:             st,
		Store:          st,
		Mailer:         mailer,
		Logger:         logger,
		Metrics:        reg,
		TTL:            cfg.OTPTTL,
		ResendCooldown: cfg.OTPResendCooldown,
		MaxAttempts:    cfg.OTPMaxAttempts,
		HashCost:       cfg.OTPHashCost,
	}
	deps := server.Deps{
		Orders: &usecase.OrderService{
			Tx:        st,
			Products:  st,
			Orders:    st,
			Carts:     st,
			Users:     st,
			Inventory: inventory,
			Mailer:    mailer,
			Logger:    logger,
			Metrics:   reg,
			TxTimeout: cfg.TxTimeout,
		},
		Inventory:  inventory,
		OTP:        otp,
		Auth:       &usecase.AuthService{Users: st, OTP: otp, JWTSecret: cfg.JWTSecret, TokenTTL: cfg.TokenTTL},
		Carts:      &usecase.CartService{Tx: st, Products: st, Carts: st},
		Categories: &usecase.CategoryService{Tx: st, Categories: st},
		Metrics:    reg,
		Logger:     logger,
		Ready:      ready,
	}

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go otp.RunJanitor(janitorCtx, cfg.OTPCleanupInterval)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           server.New(cfg, deps).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()
	logger.Info("storefront backend started", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	stopJanitor()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	logger.Info("Server exited")
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.LogJSON {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func initTracing() func() {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}
}
