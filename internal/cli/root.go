package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/engine"
	"github.com/lazypower/recall/internal/logging"
	"github.com/lazypower/recall/internal/store"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "recall",
	Short: "Associative memory for conversational agents",
	Long: "Recall keeps a persistent graph of short memory facts and tells you which of them are\n" +
		"relevant right now. Facts activate similar memories, co-active memories grow linked,\n" +
		"and activation spreads along those links and fades over time.",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(recallCmd)
	rootCmd.AddCommand(statsCmd)
}

// runtime is everything a command needs to drive the network.
type runtime struct {
	cfg      config.Config
	logger   *zap.Logger
	store    store.Store
	embedder engine.Embedder
	where    string // human-readable store location
}

func (rt *runtime) Close() {
	if c, ok := rt.embedder.(*engine.CachedEmbedder); ok {
		c.Close()
	}
	rt.store.Close()
	rt.logger.Sync()
}

func (rt *runtime) networkOptions() []engine.Option {
	return []engine.Option{engine.WithParams(rt.cfg.Network), engine.WithLogger(rt.logger)}
}

// setup loads config and opens the logger, store and embedder. withEmbedder
// is false for commands that never embed.
func setup(ctx context.Context, withEmbedder bool) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	st, where, err := openStore(ctx, cfg.Database)
	if err != nil {
		logger.Sync()
		return nil, err
	}

	rt := &runtime{cfg: cfg, logger: logger, store: st, where: where}
	if withEmbedder {
		rt.embedder, err = engine.NewEmbedder(cfg.Embedder, logger)
		if err != nil {
			rt.Close()
			return nil, err
		}
	}
	return rt, nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, string, error) {
	switch cfg.Driver {
	case "postgres":
		pg, err := store.OpenPostgres(ctx, cfg.DSN, cfg.Dimensions)
		if err != nil {
			return nil, "", fmt.Errorf("open postgres: %w", err)
		}
		return pg, "postgres", nil
	default:
		path := cfg.Path
		if path == "" {
			var err error
			path, err = store.DefaultDBPath()
			if err != nil {
				return nil, "", fmt.Errorf("resolve db path: %w", err)
			}
		}
		db, err := store.Open(path)
		if err != nil {
			return nil, "", fmt.Errorf("open database: %w", err)
		}
		return db, path, nil
	}
}
