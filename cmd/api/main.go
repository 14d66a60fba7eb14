package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/plantify-account/internal/application/account"
	"github.com/plantify-account/internal/application/notification"
	"github.com/plantify-account/internal/application/recovery"
	"github.com/plantify-account/internal/application/verification"
	"github.com/plantify-account/internal/config"
	"github.com/plantify-account/internal/domain"
	"github.com/plantify-account/internal/infrastructure/dynamo"
	jwtinfra "github.com/plantify-account/internal/infrastructure/jwt"
	"github.com/plantify-account/internal/infrastructure/smtp"
	"github.com/plantify-account/internal/infrastructure/sns"
	"github.com/plantify-account/internal/infrastructure/sqlstore"
	"github.com/plantify-account/internal/pkg/logging"
	"github.com/plantify-account/internal/pkg/password"
	"github.com/plantify-account/internal/pkg/token"
	transporthttp "github.com/plantify-account/internal/transport/http"
)

type userStore interface {
	Create(ctx context.Context, u *domain.User) error
	Get(ctx context.Context, userID string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

// verificationStore is implemented by both the DynamoDB and SQL repositories.
type verificationStore interface {
	CreateOTP(ctx context.Context, userID string, now time.Time) (*domain.OTPRecord, error)
	ReissueOTP(ctx context.Context, userID string, now time.Time) (*domain.OTPRecord, error)
	LatestPendingOTP(ctx context.Context, userID string) (*domain.OTPRecord, error)
	UnconsumedOTPs(ctx context.Context, userID string) ([]domain.OTPRecord, error)
	GetOTP(ctx context.Context, userID, otpID string) (*domain.OTPRecord, error)
	CompleteVerification(ctx context.Context, rec *domain.OTPRecord, now time.Time) error

	CreateResetToken(ctx context.Context, userID string, now time.Time) (*domain.ResetTokenRecord, error)
	FindValidResetToken(ctx context.Context, token string, now time.Time) (*domain.ResetTokenRecord, error)
	FindResetToken(ctx context.Context, token string) (*domain.ResetTokenRecord, error)
	ConsumeResetToken(ctx context.Context, rec *domain.ResetTokenRecord, passwordHash string, now time.Time) error
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, reading from environment")
	}

	cfg := config.Load()
	slog.SetDefault(logging.New(os.Stdout, cfg.AppEnv, cfg.LogLevel))

	users, verifications, err := openStores(context.Background(), cfg)
	if err != nil {
		slog.Error("open store", "driver", cfg.StoreDriver, "err", err)
		os.Exit(1)
	}

	jwtProvider, err := jwtinfra.NewProvider(cfg)
	if err != nil {
		slog.Error("load jwt keys", "err", err)
		os.Exit(1)
	}

	// SMTP is the primary channel; the SNS topic is an optional fallback.
	channels := []notification.NamedChannel{{Name: "smtp", Channel: smtp.NewMailer(cfg)}}
	if cfg.SNSEmailTopicARN != "" {
		if pub, err := sns.NewEmailPublisher(cfg); err == nil {
			channels = append(channels, notification.NamedChannel{Name: "sns", Channel: pub})
		} else {
			slog.Warn("sns publisher not available", "err", err)
		}
	}
	dispatcher := notification.NewDispatcher(cfg.IsDevelopment(), channels...)
	templates := notification.NewTemplates(cfg.ResetPasswordURL)
	policy := password.NewPolicy(password.Config(cfg.Password))

	verifier := verification.NewService(verification.ServiceDeps{
		UserRepo:  users,
		OTPRepo:   verifications,
		Notifier:  dispatcher,
		Templates: templates,
	})
	deps := &transporthttp.Deps{
		Accounts: account.NewService(account.ServiceDeps{
			UserRepo:    users,
			Verifier:    verifier,
			JWTProvider: jwtProvider,
			Policy:      policy,
		}),
		Verification: verifier,
		Recovery: recovery.NewService(recovery.ServiceDeps{
			UserRepo:  users,
			TokenRepo: verifications,
			Notifier:  dispatcher,
			Templates: templates,
			Policy:    policy,
		}),
		Policy:      policy,
		JWTProvider: jwtProvider,
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      transporthttp.NewRouter(cfg, deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", cfg.AppPort, "env", cfg.AppEnv, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("forced shutdown", "err", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

func openStores(ctx context.Context, cfg *config.Config) (userStore, verificationStore, error) {
	gen := token.NewGenerator()

	if cfg.StoreDriver == config.StoreDynamo {
		client, err := dynamo.NewClient(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		// Creates the tables if they don't exist.
		dynamo.Bootstrap(ctx, client, cfg.DynamoTables)
		return dynamo.NewUserRepo(client, cfg.DynamoTables.Users),
			dynamo.NewVerificationRepo(client, cfg.DynamoTables, gen, dynamo.Options{
				OTPTTL:        cfg.OTPTTL,
				ResetTokenTTL: cfg.ResetTokenTTL,
			}), nil
	}

	db, err := sqlstore.Open(cfg.StoreDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := sqlstore.Migrate(db); err != nil {
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return sqlstore.NewUserRepo(db),
		sqlstore.NewVerificationRepo(db, gen, sqlstore.Options{
			OTPTTL:        cfg.OTPTTL,
			ResetTokenTTL: cfg.ResetTokenTTL,
		}), nil
}
