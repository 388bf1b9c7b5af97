package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	svix "github.com/svix/svix-webhooks/go"

	"translatemenu/internal/api"
	"translatemenu/internal/auth"
	"translatemenu/internal/blob"
	"translatemenu/internal/cache"
	"translatemenu/internal/config"
	"translatemenu/internal/db"
	"translatemenu/internal/identity"
	"translatemenu/internal/imagegen"
	"translatemenu/internal/menu"
	"translatemenu/internal/payments"
	"translatemenu/internal/store"
	"translatemenu/internal/vision"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(os.Getenv("LOG_LEVEL"))}))
	slog.SetDefault(logger)

	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "starting translatemenu",
		"addr", cfg.Addr,
		"db_driver", cfg.Database.Driver,
		"blob_backend", cfg.Blob.Backend,
		"redis", cfg.Redis.Addr != "",
	)

	conn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close database failed", "error", cerr)
		}
	}()

	st := store.New(conn, store.Dialect(cfg.Database.Driver))
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	var prefs api.PreferencesStore = st
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if cerr := rdb.Close(); cerr != nil {
				logger.ErrorContext(ctx, "close redis failed", "error", cerr)
			}
		}()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		prefs = cache.NewPreferences(rdb, st, cfg.Redis.PreferencesTTL, logger)
	}

	images, err := openBlobStore(ctx, cfg.Blob)
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}

	extractor, err := vision.NewClient(vision.Config{
		APIKey:    cfg.OpenAI.APIKey,
		BaseURL:   cfg.OpenAI.BaseURL,
		Model:     cfg.OpenAI.Model,
		Timeout:   cfg.OpenAI.Timeout,
		MaxTokens: cfg.OpenAI.MaxTokens,
	}, nil, logger)
	if err != nil {
		return fmt.Errorf("vision client: %w", err)
	}
	renderer, err := imagegen.NewReplicateClient(imagegen.ReplicateConfig{
		APIToken: cfg.Replicate.APIToken,
		BaseURL:  cfg.Replicate.BaseURL,
		Model:    cfg.Replicate.Model,
		Timeout:  cfg.Replicate.Timeout,
	}, nil)
	if err != nil {
		return fmt.Errorf("replicate client: %w", err)
	}

	hub := api.NewGenerationHub(logger)
	receiver, err := imagegen.NewReceiver(images, imagegen.ReceiverConfig{
		OutputExpression: cfg.Callback.OutputExpression,
		FetchTimeout:     cfg.Callback.FetchTimeout,
		MaxImageBytes:    cfg.Callback.MaxImageBytes,
	}, nil, hub, logger)
	if err != nil {
		return fmt.Errorf("image receiver: %w", err)
	}

	analyzer := menu.NewAnalyzer(menu.AnalyzerDeps{
		Extractor:   extractor,
		Submitter:   imagegen.NewSubmitter(renderer, cfg.PublicBaseURL, logger),
		Preferences: prefs,
		Generations: st,
		MaxImages:   cfg.MaxImages,
		Logger:      logger,
	})

	verifier, err := newVerifier(ctx, cfg.Auth)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	deps := api.Deps{
		Logger:      logger,
		Auth:        verifier,
		Analyzer:    analyzer,
		Images:      images,
		Callbacks:   receiver,
		Preferences: prefs,
		Users:       st,
		Generations: st,
		Hub:         hub,
	}
	if secret := cfg.Replicate.WebhookSecret; secret != "" {
		wh, err := svix.NewWebhook(secret)
		if err != nil {
			return fmt.Errorf("callback signatures: %w", err)
		}
		deps.CallbackSignatures = wh
	}
	if secret := cfg.Identity.WebhookSecret; secret != "" {
		h, err := identity.NewHandler(secret, st, logger)
		if err != nil {
			return fmt.Errorf("identity webhook: %w", err)
		}
		deps.Identity = h
	}
	if cfg.Stripe.WebhookSecret != "" {
		var customers payments.CustomerDirectory
		if cfg.Stripe.SecretKey != "" {
			customers = payments.NewStripeCustomers(cfg.Stripe.SecretKey)
		}
		deps.Stripe = payments.NewProcessor(cfg.Stripe.WebhookSecret, cfg.Stripe.PaymentLinkID, st, customers, logger)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.NewServer(cfg, deps).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return serve(ctx, srv, cfg.ShutdownTimeout, logger)
}

func serve(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openBlobStore(ctx context.Context, cfg config.BlobConfig) (blob.Store, error) {
	switch cfg.Backend {
	case "bunny":
		return blob.NewBunnyStore(blob.BunnyConfig{
			Endpoint:   cfg.BunnyEndpoint,
			Zone:       cfg.BunnyZone,
			AccessKey:  cfg.BunnyAccessKey,
			PathPrefix: cfg.Bucket,
			MaxBytes:   cfg.MaxBytes,
		}, nil)
	case "minio":
		return blob.NewMinioStore(ctx, blob.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.Bucket,
			UseSSL:    cfg.MinioUseSSL,
			MaxBytes:  cfg.MaxBytes,
		})
	case "memory":
		return blob.NewMemoryStore(), nil
	default:
		return blob.NewFSStore(cfg.FSRoot)
	}
}

// newVerifier trusts the OIDC issuer when configured, then static dev tokens.
func newVerifier(ctx context.Context, cfg config.AuthConfig) (auth.Verifier, error) {
	var chain auth.Chain
	if cfg.OIDCIssuer != "" {
		v, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.OIDCClientID)
		if err != nil {
			return nil, err
		}
		chain = append(chain, v)
	}
	if len(cfg.DevTokens) > 0 {
		chain = append(chain, auth.NewStaticVerifier(cfg.DevTokens))
	}
	return chain, nil
}

func logLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
