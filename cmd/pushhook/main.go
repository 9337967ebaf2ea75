package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/sydlexius/pushhook/internal/api"
	"github.com/sydlexius/pushhook/internal/api/middleware"
	"github.com/sydlexius/pushhook/internal/auth"
	"github.com/sydlexius/pushhook/internal/config"
	"github.com/sydlexius/pushhook/internal/database"
	"github.com/sydlexius/pushhook/internal/dispatch"
	"github.com/sydlexius/pushhook/internal/logging"
	"github.com/sydlexius/pushhook/internal/provider"
	"github.com/sydlexius/pushhook/internal/provider/pushover"
	"github.com/sydlexius/pushhook/internal/provider/telegram"
	"github.com/sydlexius/pushhook/internal/version"
	"github.com/sydlexius/pushhook/internal/watcher"
	"github.com/sydlexius/pushhook/internal/webhook"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "set-password":
			username := ""
			if len(os.Args) > 2 {
				username = os.Args[2]
			}
			if err := setPassword(username); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}
			return
		case "version":
			fmt.Printf("pushhook %s (%s)\n", version.Version, version.Commit)
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loggingConfig(cfg *config.Config) logging.Config {
	return logging.Config{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		FilePath:       cfg.Logging.FilePath,
		FileMaxSizeMB:  cfg.Logging.FileMaxSizeMB,
		FileMaxFiles:   cfg.Logging.FileMaxFiles,
		FileMaxAgeDays: cfg.Logging.FileMaxAgeDays,
	}
}

func run() error {
	configPath := config.PathFromEnv()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logManager, logger := logging.NewManager(loggingConfig(cfg))
	defer logManager.Close() //nolint:errcheck
	slog.SetDefault(logger)

	for _, dir := range []string{cfg.Data.Dir, filepath.Dir(cfg.StorePath())} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	webhookService := webhook.NewService(store, logger)
	if err := webhookService.Load(ctx); err != nil {
		return err
	}

	if cfg.Store.Driver == config.StoreJSON && cfg.Store.Watch {
		watcherService := watcher.NewService(cfg.StorePath(), webhookService.Reload, logger)
		go watcherService.Start(ctx)
	}

	rateLimiters := provider.NewRateLimiterMap()
	providerRegistry := provider.NewRegistry()
	providerRegistry.Register(pushover.NewWithBaseURL(rateLimiters, logger, cfg.Pushover.BaseURL))
	providerRegistry.Register(telegram.NewWithBaseURL(rateLimiters, logger, cfg.Telegram.BaseURL))

	credentials := provider.StaticCredentials{
		provider.NamePushover: {
			pushover.CredAppToken: cfg.Pushover.AppToken,
			pushover.CredUserKey:  cfg.Pushover.UserKey,
		},
		provider.NameTelegram: {
			telegram.CredBotToken: cfg.Telegram.BotToken,
			telegram.CredChatID:   cfg.Telegram.ChatID,
		},
	}

	dispatcher := dispatch.New(providerRegistry, credentials, logger)
	dispatcher.SetTimeout(cfg.Dispatch.Timeout)

	authService := auth.NewService(cfg.AdminFile(), logger)
	boot, err := authService.Bootstrap(cfg.Admin.Username, cfg.Admin.Password)
	if err != nil {
		return fmt.Errorf("bootstrapping admin account: %w", err)
	}
	go authService.StartCleanup(ctx, time.Hour)

	basePath, err := auth.EnsureBasePath(cfg.MetaFile(), cfg.Server.AdminPath)
	if err != nil {
		return fmt.Errorf("resolving admin path: %w", err)
	}
	if cfg.Server.AdminPath != "" && !basePath.FromConfig {
		logger.Warn("configured admin path is invalid; using stored path",
			slog.String("configured", cfg.Server.AdminPath))
	}

	router := api.NewRouter(api.RouterDeps{
		WebhookService: webhookService,
		Dispatcher:     dispatcher,
		AuthService:    authService,
		LoginLimiter:   middleware.NewLoginRateLimiter(ctx),
		Registry:       providerRegistry,
		Credentials:    credentials,
		Logger:         logger,
		BasePath:       basePath.BasePath,
		PublicBaseURL:  cfg.Server.PublicBaseURL,
	})

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listening: %w", err)
	}
	srv := &http.Server{
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.Dispatch.Timeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go watchSIGHUP(ctx, configPath, logManager, logger)

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	logBanner(logger, cfg, ln.Addr(), router.Routes(), boot)

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore builds the configured webhook store. The returned func releases
// any resources it holds.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (webhook.Store, func(), error) {
	path := cfg.StorePath()
	if cfg.Store.Driver != config.StoreSQLite {
		logger.Info("webhook store ready", slog.String("driver", config.StoreJSON), slog.String("path", path))
		return webhook.NewJSONStore(path), func() {}, nil
	}

	db, err := database.Open(ctx, path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	closeDB := func() {
		if err := db.Close(); err != nil {
			logger.Error("closing database", slog.String("error", err.Error()))
		}
	}
	if err := database.Migrate(ctx, db, logger); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("webhook store ready", slog.String("driver", config.StoreSQLite), slog.String("path", path))
	return webhook.NewSQLiteStore(db), closeDB, nil
}

// watchSIGHUP re-reads the logging section of the config file on SIGHUP.
func watchSIGHUP(ctx context.Context, configPath string, mgr *logging.Manager, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := config.Load(configPath)
			if err != nil {
				logger.Error("reloading config", slog.String("error", err.Error()))
				continue
			}
			next := loggingConfig(cfg)
			mgr.Reconfigure(next)
			logger.Info("logging reconfigured", slog.String("config", next.String()))
		}
	}
}

func logBanner(logger *slog.Logger, cfg *config.Config, addr net.Addr, routes api.Routes, boot auth.BootstrapResult) {
	base := cfg.BaseURL()
	if tcp, ok := addr.(*net.TCPAddr); ok && cfg.Server.PublicBaseURL == "" {
		base = fmt.Sprintf("http://localhost:%d", tcp.Port)
	}

	logger.Info("pushhook started",
		slog.String("version", version.Version),
		slog.String("commit", version.Commit),
		slog.String("addr", addr.String()),
		slog.String("admin_login", base+routes.Login),
		slog.String("admin_panel", base+routes.Admin),
	)
	if boot.Created && boot.Password != "" {
		// initial_password is outside the redacted key set.
		logger.Warn("generated admin credentials, change the password after first login",
			slog.String("username", boot.Username),
			slog.String("initial_password", boot.Password),
		)
	}
}

// setPassword overwrites the admin password from the terminal.
func setPassword(username string) error {
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	password, err := readPassword("New password: ")
	if err != nil {
		return err
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		confirm, err := readPassword("Confirm password: ")
		if err != nil {
			return err
		}
		if confirm != password {
			return errors.New("passwords do not match")
		}
	}

	svc := auth.NewService(cfg.AdminFile(), logger)
	if err := svc.SetPassword(username, password); err != nil {
		return err
	}
	fmt.Printf("Admin password updated in %s.\n", cfg.AdminFile())
	fmt.Println("Existing sessions end when the server restarts.")
	return nil
}

// readPassword reads without echo on a terminal, or one line from piped
// standard input.
func readPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

