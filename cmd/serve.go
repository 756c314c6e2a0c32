package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skillbridge/liveroom/internal/config"
	"github.com/skillbridge/liveroom/internal/logging"
	"github.com/skillbridge/liveroom/internal/server"
	"github.com/skillbridge/liveroom/internal/session"
)

var (
	flagServeAddr     string
	flagServeConfig   string
	flagServeLogLevel string
	flagServeStore    string
	flagServeMongoURI string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the room relay",
	Long: `Run the relay that admits participants, forwards connection setup,
keeps whiteboards and chat, and enforces session time.

Configuration is read from liveroom.yaml (current dir, ./configs,
/etc/liveroom or ~/.liveroom), then LIVEROOM_* environment variables,
then the flags below.

Examples:
  liveroom serve
  liveroom serve --addr :9000 --store mongo --mongo-uri mongodb://db:27017`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadServer(flagServeConfig)
		if err != nil {
			return err
		}
		applyServeFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}

		log := logging.Init(logging.ParseLevel(cfg.LogLevel, slog.LevelInfo))

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, closeStore, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		srv := server.New(cfg, store, server.Options{Logger: log})
		return srv.Run(ctx)
	},
}

func applyServeFlags(cmd *cobra.Command, cfg *config.Server) {
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Addr = flagServeAddr
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = flagServeLogLevel
	}
	if flags.Changed("store") {
		cfg.Session.Store = flagServeStore
	}
	if flags.Changed("mongo-uri") {
		cfg.Mongo.URI = flagServeMongoURI
	}
}

func openStore(ctx context.Context, cfg *config.Server) (session.Store, func(), error) {
	if cfg.Session.Store != "mongo" {
		return session.NewMemoryStore(!cfg.Session.RequireRecord), func() {}, nil
	}

	store, err := session.DialMongo(ctx, session.MongoConfig{
		URI:            cfg.Mongo.URI,
		Database:       cfg.Mongo.Database,
		Collection:     cfg.Mongo.Collection,
		ConnectTimeout: cfg.Mongo.Timeout,
		OpTimeout:      cfg.Mongo.Timeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect to session store: %w", err)
	}
	return store, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Mongo.Timeout)
		defer cancel()
		store.Close(ctx)
	}, nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&flagServeAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().StringVarP(&flagServeConfig, "config", "c", "", "Directory containing liveroom.yaml")
	serveCmd.Flags().StringVar(&flagServeLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	serveCmd.Flags().StringVar(&flagServeStore, "store", "memory", "Session record store (memory or mongo)")
	serveCmd.Flags().StringVar(&flagServeMongoURI, "mongo-uri", "", "MongoDB connection string")
}
