package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tinyland-inc/linecord/cmd/linecord/internal"
	"github.com/tinyland-inc/linecord/pkg/bus"
	"github.com/tinyland-inc/linecord/pkg/config"
	"github.com/tinyland-inc/linecord/pkg/discord"
	"github.com/tinyland-inc/linecord/pkg/health"
	"github.com/tinyland-inc/linecord/pkg/line"
	"github.com/tinyland-inc/linecord/pkg/logger"
	"github.com/tinyland-inc/linecord/pkg/media"
	"github.com/tinyland-inc/linecord/pkg/ratelimit"
	"github.com/tinyland-inc/linecord/pkg/relay"
)

func relayCmd(debug bool, configPath string) error {
	cfg, err := internal.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	applyLogLevel(cfg, debug)

	if err := cfg.Validate(); err != nil {
		logger.ErrorCF("config", "Invalid configuration", map[string]any{"error": err.Error()})
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return run(ctx, cfg)
}

func applyLogLevel(cfg *config.Config, debug bool) {
	if level, ok := logger.ParseLevel(cfg.Log.Level); ok {
		logger.SetLevel(level)
	}
	if debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("🔍 Debug mode enabled")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	st, err := internal.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	limiter, err := ratelimit.NewWindow(cfg.Line.RateLimit.Permits, cfg.Line.RateLimit.Window())
	if err != nil {
		return fmt.Errorf("error creating rate limiter: %w", err)
	}

	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	g, gctx := errgroup.WithContext(ctx)

	if argv := cfg.Line.GatewayArgv(); len(argv) > 0 {
		sidecar := line.NewSidecar(argv)
		if err := sidecar.Start(gctx); err != nil {
			return err
		}
		defer sidecar.Stop()

		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			case <-sidecar.Done():
				return fmt.Errorf("line gateway exited: %w", sidecar.Err())
			}
		})
	}

	lineSession := line.NewSession(line.Config{GatewayURL: cfg.Line.GatewayURL}, st, limiter, msgBus)
	lineSession.OnReady(func(p line.Profile) {
		fmt.Printf("✓ Logged in to LINE as %s\n", p.DisplayName)
	})

	discordSession, err := discord.New(discord.Config{
		Token: cfg.Discord.Token,
		EndpointConfig: discord.EndpointConfig{
			GuildID:     cfg.Discord.ServerID,
			ChannelID:   cfg.Discord.ChannelID,
			WebhookName: cfg.Discord.WebhookName,
		},
	}, st)
	if err != nil {
		return err
	}

	resolver := media.NewResolver(media.Config{
		StorageBaseURL: cfg.Media.StorageBaseURL,
		StickerBaseURL: cfg.Media.StickerBaseURL,
		Timeout:        cfg.HTTP.Timeout(),
	}, lineSession)
	engine := relay.NewEngine(relay.Config{SquareChatMID: cfg.Line.SquareChatMID}, msgBus, discordSession, resolver)
	dispatcher := discord.NewDispatcher(msgBus, discordSession.Endpoints(), cfg.HTTP.Timeout())

	g.Go(func() error {
		err := lineSession.Run(gctx, line.Credentials{
			Email:     cfg.Line.Email,
			Password:  cfg.Line.Password,
			AuthToken: cfg.Line.AuthToken,
		})
		var authErr *line.AuthenticationError
		if errors.As(err, &authErr) {
			// Discord stays up; a restart retries the login.
			logger.ErrorCF("line", "LINE login failed, relay is idle", map[string]any{
				"error": err.Error(),
			})
			<-gctx.Done()
			return nil
		}
		return err
	})
	g.Go(func() error { return discordSession.Run(gctx) })
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return dispatcher.Run(gctx) })

	if cfg.Health.Enabled {
		healthServer := health.NewServer(cfg.Health.Host, cfg.Health.Port)
		healthServer.RegisterCheck("line", lineSession.IsReady)
		healthServer.RegisterCheck("discord", discordSession.CanDeliver)

		g.Go(func() error {
			if err := healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.ErrorCF("health", "Health server error", map[string]any{"error": err.Error()})
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return healthServer.Stop(shutdownCtx)
		})
		fmt.Printf("✓ Health endpoints available at http://%s/health, /ready and /metrics\n", healthServer.Addr())
	}

	fmt.Printf("✓ Relaying square %s to channel %s\n", cfg.Line.SquareChatMID, cfg.Discord.ChannelID)
	fmt.Println("Press Ctrl+C to stop")

	err = g.Wait()
	fmt.Println("✓ Relay stopped")
	return err
}
