// The serve command.
//
// serve wires the whole process: tracing, the document store, the key
// service, the Bot Framework connector and channel authentication, the bot
// itself, and the HTTP router. It then runs the server until SIGINT or
// SIGTERM and drains in-flight requests within SHUTDOWN_TIMEOUT.

package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	_ "github.com/tbourn/notify-bot/docs"
	"github.com/tbourn/notify-bot/internal/bot"
	"github.com/tbourn/notify-bot/internal/config"
	"github.com/tbourn/notify-bot/internal/connector"
	httpapi "github.com/tbourn/notify-bot/internal/http"
	"github.com/tbourn/notify-bot/internal/http/handlers"
	"github.com/tbourn/notify-bot/internal/observability"
	"github.com/tbourn/notify-bot/internal/services"
)

// serveCmd is also the root command's default action.
func serveCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the bot endpoint, the admin API and the Power Automate endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

// serve blocks until ctx is cancelled or the listener fails. A clean
// shutdown returns nil.
func serve(ctx context.Context, cfg config.Config) error {
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, observability.Identity{
		Version:  Version,
		BotAppID: cfg.Bot.AppID,
	})
	if err != nil {
		return err
	}
	// Flush spans last, after the server has drained.
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	// Storage and keys open before the listener; any failure aborts startup.
	r, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	keys, err := openKeyVault(ctx, cfg)
	if err != nil {
		return err
	}
	tokens := newTokenService(keys, cfg)

	client := connector.NewClient(connector.ClientConfig{
		AppID:       cfg.Bot.AppID,
		AppPassword: cfg.Bot.AppPassword,
		TokenURL:    cfg.Bot.TokenURL,
		Scope:       cfg.Bot.TokenScope,
	})
	// Inbound activities are checked against the channel's OpenID keys
	// unless running against the emulator.
	var channelAuth connector.Authenticator = connector.NoAuth{}
	if cfg.Bot.AuthDisabled {
		log.Warn().Msg("channel authentication disabled; use with the emulator only")
	} else {
		v, err := connector.NewVerifier(connector.VerifierConfig{
			AppID:     cfg.Bot.AppID,
			OpenIDURL: cfg.Bot.OpenIDURL,
		})
		if err != nil {
			return err
		}
		channelAuth = v
	}

	catalog, err := bot.LoadCatalog()
	if err != nil {
		return err
	}
	b := bot.New(r, client, catalog, bot.Options{
		TenantID:    cfg.Bot.TenantID,
		Name:        cfg.Bot.Name,
		TaskTitle:   cfg.Bot.TaskModuleTitle,
		TaskURL:     cfg.Bot.TaskModuleURL,
		FlowTimeout: cfg.Bot.FlowTimeout,
	})

	// One repository and one connector client (with its token cache) are
	// shared by the bot and both services.
	h := handlers.New(handlers.Deps{
		Tokens:        tokens,
		Notifications: &services.NotificationService{Repo: r, Sender: client, IdempotencyTTL: cfg.IdempotencyTTL},
		Messages:      &services.MessageService{Repo: r, Sender: client},
		Bot:           b,
		ChannelAuth:   channelAuth,
	})

	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, httpapi.Deps{
		Handlers:    h,
		Tokens:      tokens,
		Idempotency: r,
		Ping:        r.Ping,
	}, cfg)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		// Every request context carries the global logger for zerolog.Ctx.
		BaseContext:       func(net.Listener) context.Context { return log.Logger.WithContext(context.Background()) },
	}

	// errCh is closed once ListenAndServe returns.
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", Version).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// Stop accepting and wait for in-flight requests; the bot endpoint may
	// be mid-way through a connector call.
	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	return <-errCh
}
