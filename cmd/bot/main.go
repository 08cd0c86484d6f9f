// Package main provides the bot entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	router "github.com/osa030/tunebox/internal/api/discord"
	"github.com/osa030/tunebox/internal/app/audiofilter"
	"github.com/osa030/tunebox/internal/app/notification"
	"github.com/osa030/tunebox/internal/app/playback"
	"github.com/osa030/tunebox/internal/app/resolve"
	"github.com/osa030/tunebox/internal/app/session"
	"github.com/osa030/tunebox/internal/infra/config"
	"github.com/osa030/tunebox/internal/infra/discord"
	"github.com/osa030/tunebox/internal/infra/lavalink"
	"github.com/osa030/tunebox/internal/infra/logger"
	"github.com/osa030/tunebox/internal/infra/spotify"
)

var (
	app        = kingpin.New("tunebox", "tunebox music bot")
	configPath = app.Flag("config", "Path to config file").Default("config/bot.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	listFiltersCmd = app.Command("list-filters", "List available audio filters and exit")
)

func init() {
	app.Command("start", "Start the bot (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Bot error: %v", err)
		os.Exit(1)
	}
}

// run wires the bot together and blocks until a shutdown signal arrives.
// Using a separate function ensures deferred cleanup runs on error returns.
func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	profiles, err := cfg.FilterProfiles()
	if err != nil {
		return errors.Wrap(err, "invalid filter config")
	}

	discord.InstallLogger()
	gateway, err := discord.New(ctx, cfg.Discord.Token)
	if err != nil {
		return err
	}
	if err := gateway.Open(); err != nil {
		return err
	}
	defer func() {
		if err := gateway.Close(); err != nil {
			zlog.Error().Msgf("Failed to close discord session: %v", err)
		}
	}()

	node := lavalink.NewNode(lavalink.Config{
		Name:              cfg.Lavalink.Name,
		Host:              cfg.Lavalink.Host,
		Port:              cfg.Lavalink.Port,
		Password:          cfg.Lavalink.Password,
		Secure:            cfg.Lavalink.Secure,
		ClientName:        cfg.Lavalink.ClientName,
		UserID:            gateway.UserID(),
		ReconnectInterval: cfg.ReconnectInterval(),
		EventBuffer:       cfg.Playback.EventBuffer,
	}, gateway)
	gateway.Forward(node)

	nodeDone := make(chan struct{})
	go func() {
		defer close(nodeDone)
		_ = node.Run(ctx)
	}()

	var catalog resolve.Catalog
	if cfg.SpotifyEnabled() {
		client, err := spotify.New(ctx, spotify.Config{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			Market:       cfg.Spotify.Market,
		})
		if err != nil {
			return errors.Wrap(err, "failed to create Spotify client")
		}
		catalog = client
	} else {
		zlog.Info().Msg("Spotify credentials not configured, Spotify links will not be resolved")
	}

	resolver := resolve.New(node, catalog, resolve.Config{
		SearchPrefix: cfg.Lavalink.SearchPrefix,
	})

	registry := session.NewRegistry(node, resolver, playback.Config{
		DefaultVolume: cfg.Playback.DefaultVolume,
		NotifyTimeout: cfg.NotifyTimeout(),
		Profiles:      profiles,
		Messages: playback.Messages{
			NowPlaying: cfg.Messages.NowPlaying,
			QueueEmpty: cfg.Messages.QueueEmpty,
		},
	})
	notices := notification.NewManager(gateway, cfg.NotifyTimeout())

	commands := router.NewRouter(cfg.Discord.Prefix, registry, gateway, notices, node)
	gateway.Session().AddHandler(commands.HandleMessage)

	zlog.Info().Msgf("Bot started: prefix=%s node=%s", cfg.Discord.Prefix, node.Name())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	zlog.Info().Msg("Received shutdown signal...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Leave voice while the node connection is still up.
	node.LeaveAll(shutdownCtx)
	registry.Close()
	cancel()
	<-nodeDone

	zlog.Info().Msg("Bot stopped")
	return nil
}

// printFilters prints the available audio filters.
func printFilters() {
	fmt.Println("Available Filters:")
	for _, name := range audiofilter.Order {
		fmt.Printf("  %s\n", name)
	}
}
