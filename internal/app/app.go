// Package app wires the inbox sync service together.
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"inbox-sync-go/internal/actions"
	"inbox-sync-go/internal/classifier"
	"inbox-sync-go/internal/config"
	"inbox-sync-go/internal/conversation"
	"inbox-sync-go/internal/crypto"
	"inbox-sync-go/internal/db"
	"inbox-sync-go/internal/handler"
	"inbox-sync-go/internal/inboxsync"
	"inbox-sync-go/internal/llm"
	"inbox-sync-go/internal/mailbox"
	"inbox-sync-go/internal/metrics"
	"inbox-sync-go/internal/model"
	"inbox-sync-go/internal/outbound"
	"inbox-sync-go/internal/repository"
	"inbox-sync-go/internal/router"
	"inbox-sync-go/internal/scheduler"
)

const shutdownTimeout = 30 * time.Second

// App holds every wired component
type App struct {
	Config    *config.Config
	DB        *gorm.DB
	Repo      *repository.Repository
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	OAuth     *oauth2.Config
	Tokens    *mailbox.TokenService
	Dialer    *mailbox.GmailDialer
	Sync      *inboxsync.Orchestrator
	Scheduler *scheduler.Scheduler
	Sender    *outbound.Sender
	Handlers  *handler.Handlers
}

// ConfigureLogging applies the log settings to the global logger
func ConfigureLogging(cfg config.LogConfig) {
	if strings.EqualFold(cfg.Format, "text") {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logrus.Warnf("Unknown log level %q, using info", cfg.Level)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

// Load reads and validates the configuration and sets up logging
func Load() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	ConfigureLogging(cfg.Log)
	return cfg, nil
}

// Build wires every component from cfg
func Build(cfg *config.Config) (*App, error) {
	cipher, err := crypto.NewCipher(cfg.Security.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create token cipher: %w", err)
	}

	dbConn, err := db.Init(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	replyModel, err := llm.New(cfg.Classifier)
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier: %w", err)
	}
	logrus.WithField("provider", cfg.Classifier.Provider).Info("Reply classifier ready")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(registry)

	repo := repository.New(dbConn)
	oauth := mailbox.OAuthConfig(cfg.Gmail)
	tokens := mailbox.NewTokenService(oauth, cipher, repo)
	dialer := mailbox.NewGmailDialer(tokens)

	engine := classifier.New(replyModel,
		classifier.WithThreshold(cfg.Classifier.ConfidenceThreshold),
		classifier.WithMaxBodyChars(cfg.Classifier.MaxBodyChars),
	)

	orchestrator := inboxsync.New(repo, dialer, engine, actions.New(repo), m, inboxsync.Options{
		MaxMessages:     cfg.Sync.MaxMessages,
		FetchDelay:      cfg.Sync.FetchDelay,
		RetryBatchSize:  cfg.Sync.RetryBatchSize,
		InitialLookback: cfg.Sync.InitialLookback,
	})
	sched := scheduler.NewScheduler(&cfg.Scheduler, orchestrator)

	sender := outbound.New(repo, dialer, m, outbound.Options{
		BaseURL:          cfg.App.BaseURL,
		UnsubscribeLabel: cfg.App.UnsubscribeLabel,
	})

	h := handler.NewHandlers(repo, conversation.NewService(dbConn), sched, registry, cfg.Server.CronSecret)

	return &App{
		Config:    cfg,
		DB:        dbConn,
		Repo:      repo,
		Registry:  registry,
		Metrics:   m,
		OAuth:     oauth,
		Tokens:    tokens,
		Dialer:    dialer,
		Sync:      orchestrator,
		Scheduler: sched,
		Sender:    sender,
		Handlers:  h,
	}, nil
}

// Close releases the database connection
func (a *App) Close() error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Run serves the HTTP API and the periodic sync until SIGINT or SIGTERM
func (a *App) Run() error {
	logrus.Info("Starting inbox sync service")

	srv := &http.Server{
		Addr:         ":" + a.Config.Server.Port,
		Handler:      router.SetupRouter(a.Handlers),
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}

	if a.Config.Scheduler.Enabled {
		if err := a.Scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	} else {
		logrus.Info("Scheduler disabled; sync runs only on request")
	}

	serverErr := make(chan error, 1)
	go func() {
		logrus.Infof("Starting HTTP server on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case <-quit:
	case err := <-serverErr:
		runErr = fmt.Errorf("HTTP server error: %w", err)
	}

	logrus.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.Scheduler.IsRunning() {
		if err := a.Scheduler.Stop(); err != nil {
			logrus.Errorf("Failed to stop scheduler: %v", err)
		}
	}
	a.Scheduler.Wait()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	if err := a.Close(); err != nil {
		logrus.Errorf("Failed to close database: %v", err)
	}

	logrus.Info("Server stopped gracefully")
	return runErr
}

// SyncOnce runs a single batch over every connected mailbox
func (a *App) SyncOnce(ctx context.Context) ([]inboxsync.WorkspaceResult, error) {
	return a.Scheduler.RunOnce(ctx)
}

// Connect runs the OAuth consent flow for a workspace. The consent URL is
// written to out and the authorization code read from in.
func (a *App) Connect(ctx context.Context, workspaceID string, in io.Reader, out io.Writer) (*model.MailboxConnection, error) {
	if _, err := a.Repo.GetWorkspace(ctx, workspaceID); err != nil {
		return nil, fmt.Errorf("failed to load workspace %s: %w", workspaceID, err)
	}

	state := uuid.NewString()
	authURL := a.OAuth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintf(out, "Open the following link in your browser:\n%s\n\n", authURL)
	fmt.Fprint(out, "Enter the authorization code: ")

	code, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read authorization code: %w", err)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("authorization code is required")
	}

	token, err := a.OAuth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	if token.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token granted; revoke the app's access and retry")
	}

	return a.StoreConnection(ctx, workspaceID, token)
}

// StoreConnection reads the mailbox address for token and saves the
// encrypted connection of workspaceID.
func (a *App) StoreConnection(ctx context.Context, workspaceID string, token *oauth2.Token) (*model.MailboxConnection, error) {
	client, err := a.Dialer.ClientForToken(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}
	email, err := client.Profile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read mailbox profile: %w", err)
	}

	access, refresh, err := a.Tokens.EncryptToken(token)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt tokens: %w", err)
	}

	conn := &model.MailboxConnection{
		WorkspaceID:  workspaceID,
		Email:        email,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    token.Expiry,
	}
	if err := a.Repo.UpsertConnection(ctx, conn); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"workspace_id": workspaceID,
		"email":        email,
	}).Info("Mailbox connected")
	return conn, nil
}

// SendStep delivers one scheduled step through the workspace's mailbox
func (a *App) SendStep(ctx context.Context, workspaceID, scheduledEmailID string, draft outbound.Draft) (*model.SentEmail, error) {
	conn, err := a.Repo.GetConnection(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load mailbox connection: %w", err)
	}
	if !conn.IsValid {
		return nil, fmt.Errorf("mailbox of workspace %s needs to be reconnected", workspaceID)
	}
	return a.Sender.Send(ctx, conn, scheduledEmailID, draft)
}
