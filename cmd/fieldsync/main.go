// Package main provides the fieldsync CLI entrypoint.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spectile/fieldsync/internal/api"
	"github.com/spectile/fieldsync/internal/auth"
	"github.com/spectile/fieldsync/internal/config"
	"github.com/spectile/fieldsync/internal/logger"
	"github.com/spectile/fieldsync/internal/store"
	syncengine "github.com/spectile/fieldsync/internal/sync"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var (
	flagConfig   string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "fieldsync",
	Short: "Offline-first field activity recorder and sync engine",
	Long: `fieldsync records field sales activities locally and reconciles
them with the Spectile CRM when connectivity allows. Records are
always written locally first; a sync pass pushes pending records
and pulls the authoritative recent set without duplication.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default ~/.config/fieldsync/config.yml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(authCmd)
}

// app bundles the wired components every command needs.
type app struct {
	cfg    config.Config
	tokens *auth.FileTokenSource
	client *api.Client
	store  *store.DB
	engine *syncengine.Engine
}

// newApp loads configuration and wires the store, gateway, and engine.
// Callers must invoke close when done.
func newApp() (*app, error) {
	cfgPath := flagConfig
	if cfgPath == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	levelStr := cfg.LogLevel
	if flagLogLevel != "" {
		levelStr = flagLogLevel
	}
	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)

	tokenPath, err := auth.DefaultTokenPath()
	if err != nil {
		return nil, err
	}
	tokens := auth.NewFileTokenSource(tokenPath)

	client := api.NewWithTimeout(cfg.APIBaseURL, tokens,
		time.Duration(cfg.RequestTimeoutSeconds)*time.Second)

	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return nil, err
	}
	db, err := store.Open(config.DatabasePath(dataDir))
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	engine := syncengine.NewEngine(db, client, cfg.PageSize, cfg.DebounceMs,
		config.ConflictsDir(dataDir))

	return &app{
		cfg:    cfg,
		tokens: tokens,
		client: client,
		store:  db,
		engine: engine,
	}, nil
}

func (a *app) close() {
	a.engine.Stop()
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to close local store: %v\n", err)
	}
}
