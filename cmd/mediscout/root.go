package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"mediscout/internal/app"
	"mediscout/internal/domain/notification"
	"mediscout/internal/infra/config"
	idb "mediscout/internal/infra/database"
	"mediscout/internal/infra/logger"
	"mediscout/internal/infra/medicover"
	"mediscout/internal/infra/telegram"
)

// Exit codes for CLI commands.
const (
	ExitCodeSuccess = 0
	// ExitCodeError is any failure without a more specific code, including bad arguments.
	ExitCodeError = 1
	// ExitCodeAuthFailed means the login exchange failed or the API kept rejecting the credential.
	ExitCodeAuthFailed = 2
	// ExitCodeStoreFailed means the ledger could not be read or written.
	ExitCodeStoreFailed = 3
)

var rootCmd = &cobra.Command{
	Use:   "mediscout",
	Short: "Find and watch for free Medicover appointment slots",
	Long: `mediscout searches the Medicover Online24 appointment API, remembers which
slots it has already reported and notifies about new ones, once or on a schedule.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(
		newFindAppointmentCmd(),
		newAddWatchCmd(),
		newRemoveWatchCmd(),
		newListWatchesCmd(),
		newListFiltersCmd(),
		newStartCmd(),
	)
}

// Execute runs the root command and exits with a code derived from the error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}
	var authErr *medicover.AuthError
	if errors.As(err, &authErr) || errors.Is(err, medicover.ErrCredentialExpired) {
		return ExitCodeAuthFailed
	}
	if errors.Is(err, idb.ErrStore) {
		return ExitCodeStoreFailed
	}
	return ExitCodeError
}

// runtime holds what a command needs once configuration is loaded.
type runtime struct {
	cfg     *config.AppConfig
	ledger  *idb.Ledger
	service *app.WatchService
}

// setup loads configuration, opens the ledger and builds the service. The
// caller must call close.
func setup(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	logger.Init(cfg)
	log := logger.Component("main")
	log.WithFields(logrus.Fields{"log_level": cfg.LogLevel, "environment": cfg.Environment}).Debug("Configuration loaded")

	ledger, err := idb.OpenLedger(ctx, cfg.DatabaseURL, idb.WithLogger(logger.Component("ledger")))
	if err != nil {
		return nil, err
	}
	log.WithField("dialect", ledger.Dialect()).Debug("Ledger opened")

	// A missing identity only fails once a command calls the API.
	identity, _ := cfg.Identity()

	authenticator := medicover.NewAuthenticator(medicover.AuthenticatorConfig{
		LoginURL:    cfg.LoginURL,
		RedirectURL: cfg.RedirectURL,
		UserAgent:   cfg.UserAgent,
		Timeout:     cfg.HTTPTimeout,
	}, logger.Component("authenticator"))

	client := medicover.NewClient(medicover.ClientConfig{
		APIURL:    cfg.APIURL,
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.HTTPTimeout,
		MaxReauth: cfg.MaxReauth,
	}, authenticator, identity, logger.Component("api"))

	var notifier notification.Notifier
	if cfg.TelegramEnabled() {
		bot, err := telegram.NewBot(cfg.TelegramToken)
		if err != nil {
			ledger.Close()
			return nil, err
		}
		notifier = telegram.NewTelebotAdapter(bot, cfg.TelegramChatID)
	} else {
		log.Debug("Telegram not configured, notifications go to the log")
		notifier = telegram.NewLogNotifier(logger.Component("notifier"))
	}

	return &runtime{
		cfg:     cfg,
		ledger:  ledger,
		service: app.NewWatchService(client, ledger, ledger, notifier, logger.Component("watch_service")),
	}, nil
}

func (r *runtime) close() {
	if err := r.ledger.Close(); err != nil {
		logger.Component("main").WithError(err).Warn("Closing ledger failed")
	}
}

// requireIdentity fails early with a readable message for API commands.
func (r *runtime) requireIdentity() error {
	_, err := r.cfg.Identity()
	return err
}
