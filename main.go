package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/ATKH/Radio-Beguin-Beta/cache"
	"github.com/ATKH/Radio-Beguin-Beta/catalog"
	"github.com/ATKH/Radio-Beguin-Beta/config"
	"github.com/ATKH/Radio-Beguin-Beta/constant"
	"github.com/ATKH/Radio-Beguin-Beta/log"
	"github.com/ATKH/Radio-Beguin-Beta/redact"
	"github.com/ATKH/Radio-Beguin-Beta/server"
	"github.com/ATKH/Radio-Beguin-Beta/soundcloud"
	"github.com/ATKH/Radio-Beguin-Beta/soundcloud/auth"
	"github.com/ATKH/Radio-Beguin-Beta/stream"
)

type exitCodeError int

func (e exitCodeError) Error() string {
	return fmt.Sprintf("exit code %d", int(e))
}

func main() {
	logger := log.NewDefault()

	//nolint:exhaustruct
	app := &cli.Command{
		Name:    "beguin",
		Version: constant.Version,
		Usage:   "Radio Béguin podcast backend",
		Suggest: true,
		Flags: []cli.Flag{
			//nolint:exhaustruct
			&cli.StringFlag{
				Name:     "config",
				Usage:    "Config file path",
				Required: false,
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP server",
				Action: runServe,
			},
			{
				Name:  "sync",
				Usage: "Aggregate the SoundCloud catalog into the snapshot file",
				Flags: []cli.Flag{
					//nolint:exhaustruct
					&cli.DurationFlag{
						Name:  "every",
						Usage: "Keep running and re-aggregate at this interval",
					},
				},
				Action: runSync,
			},
			{
				Name:  "auth",
				Usage: "Credential commands",
				Commands: []*cli.Command{
					{
						Name:   "login",
						Usage:  "Authorize the app and store a refresh token",
						Action: runAuthLogin,
					},
					{
						Name:   "check",
						Usage:  "Report which credential strategy currently works",
						Action: runAuthCheck,
					},
				},
			},
		},
	}

	if err := app.Run(signalContext(), os.Args); nil != err {
		if errors.Is(err, context.Canceled) {
			logger.Trace().Msg("Application was canceled")
			os.Exit(1)
		}

		var exitCode exitCodeError
		if errors.As(err, &exitCode) {
			os.Exit(int(exitCode))
		}

		logger.Error().Err(err).Msg("Application exited with error")
		os.Exit(10)
	}
}

func signalContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	return ctx
}

func loadConfig(cmd *cli.Command) (*config.Config, zerolog.Logger, error) {
	if err := godotenv.Load(); nil != err && !errors.Is(err, os.ErrNotExist) {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load .env file: %v", err)
	}

	conf, err := config.Load(cmd.String("config"))
	if nil != err {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %v", err)
	}

	logger := log.FromConfig(conf.Log)
	logger.Debug().Dict("config", conf.ToDict()).Msg("Configuration loaded")

	return conf, logger, nil
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	conf, logger, err := loadConfig(cmd)
	if nil != err {
		return err
	}

	store, err := auth.NewBoltTokenStore(conf.SoundCloud.TokenStore)
	if nil != err {
		return fmt.Errorf("failed to open token store: %v", err)
	}
	defer func() {
		if closeErr := store.Close(); nil != closeErr {
			logger.Error().Err(closeErr).Msg("Failed to close token store")
		}
	}()

	var (
		tokens   = auth.NewManager(conf.SoundCloud, store)
		sc       = soundcloud.NewClient(conf.SoundCloud)
		caches   = cache.New()
		resolver = stream.NewResolver(sc, tokens, caches, conf.Stream.URLTTL.Duration)
		catStore = catalog.NewStore(conf.Catalog.SnapshotFile)
		catCache = catalog.NewCache(catStore, conf.Catalog.FreshFor.Duration, logger)
	)

	srv := server.New(
		conf.Server,
		logger,
		catCache,
		resolver,
		time.Duration(conf.SoundCloud.Timeouts.ProxyFetch)*time.Second,
	)

	if err := srv.Run(ctx); nil != err {
		return fmt.Errorf("server stopped with error: %w", err)
	}

	return nil
}

func runSync(ctx context.Context, cmd *cli.Command) error {
	conf, logger, err := loadConfig(cmd)
	if nil != err {
		return err
	}

	store, err := auth.NewBoltTokenStore(conf.SoundCloud.TokenStore)
	if nil != err {
		return fmt.Errorf("failed to open token store: %v", err)
	}
	defer func() {
		if closeErr := store.Close(); nil != closeErr {
			logger.Error().Err(closeErr).Msg("Failed to close token store")
		}
	}()

	const overridesDebounce = 2 * time.Second
	overrides, err := catalog.NewOverridesStore(conf.Catalog.OverridesFile, overridesDebounce, logger)
	if nil != err {
		return fmt.Errorf("failed to load overrides: %v", err)
	}
	defer func() {
		if closeErr := overrides.Close(); nil != closeErr {
			logger.Error().Err(closeErr).Msg("Failed to close overrides store")
		}
	}()

	var (
		tokens     = auth.NewManager(conf.SoundCloud, store)
		sc         = soundcloud.NewClient(conf.SoundCloud)
		aggregator = catalog.NewAggregator(sc, tokens, overrides, conf.Catalog)
		catStore   = catalog.NewStore(conf.Catalog.SnapshotFile)
	)

	if err := syncOnce(ctx, logger, aggregator, catStore); nil != err {
		return err
	}

	every := cmd.Duration("every")
	if every <= 0 {
		return nil
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := syncOnce(ctx, logger, aggregator, catStore); nil != err {
				logger.Error().Err(err).Msg("Scheduled aggregation failed, keeping previous snapshot")
			}
		}
	}
}

func syncOnce(
	ctx context.Context,
	logger zerolog.Logger,
	aggregator *catalog.Aggregator,
	store *catalog.Store,
) error {
	startedAt := time.Now()

	snap, err := aggregator.Build(ctx, logger)
	if nil != err {
		return fmt.Errorf("aggregation failed: %w", err)
	}

	if err := store.Write(snap); nil != err {
		return fmt.Errorf("failed to write snapshot: %v", err)
	}

	logger.Info().Dur("took", time.Since(startedAt)).Msg("Catalog snapshot updated")

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Entity", "Count"})
	t.AppendRows([]table.Row{
		{"Episodes", len(snap.Episodes)},
		{"Playlists", len(snap.Playlists)},
		{"Tags", len(snap.Tags)},
	})
	t.Render()

	return nil
}

func runAuthLogin(ctx context.Context, cmd *cli.Command) error {
	conf, logger, err := loadConfig(cmd)
	if nil != err {
		return err
	}

	store, err := auth.NewBoltTokenStore(conf.SoundCloud.TokenStore)
	if nil != err {
		return fmt.Errorf("failed to open token store: %v", err)
	}
	defer func() {
		if closeErr := store.Close(); nil != closeErr {
			logger.Error().Err(closeErr).Msg("Failed to close token store")
		}
	}()

	tokens := auth.NewManager(conf.SoundCloud, store)
	if err := tokens.Login(ctx, logger); nil != err {
		return fmt.Errorf("login failed: %w", err)
	}

	return nil
}

func runAuthCheck(ctx context.Context, cmd *cli.Command) error {
	conf, logger, err := loadConfig(cmd)
	if nil != err {
		return err
	}

	store, err := auth.NewBoltTokenStore(conf.SoundCloud.TokenStore)
	if nil != err {
		return fmt.Errorf("failed to open token store: %v", err)
	}
	defer func() {
		if closeErr := store.Close(); nil != closeErr {
			logger.Error().Err(closeErr).Msg("Failed to close token store")
		}
	}()

	tokens := auth.NewManager(conf.SoundCloud, store)
	cred, err := tokens.AccessToken(ctx, logger)
	if nil != err {
		return fmt.Errorf("no credential strategy succeeded: %w", err)
	}

	logger.Info().
		Str("source", cred.Source).
		Str("token", redact.String(cred.Token)).
		Time("expires_at", cred.ExpiresAt).
		Msg("Credential acquired")

	return nil
}
