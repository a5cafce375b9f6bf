package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dbehnke/packet-nexus/pkg/config"
	"github.com/dbehnke/packet-nexus/pkg/logger"
	"github.com/dbehnke/packet-nexus/pkg/node"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the link node with its HTTP API",
		RunE:  runServer,
	}
	cmd.Flags().String("host", "", "Link host (overrides config)")
	cmd.Flags().IntP("port", "p", 0, "Link port (overrides config)")
	cmd.Flags().String("profile", "", "Link profile (overrides config)")
	return cmd
}

// loadConfig loads the configuration and applies the global overrides
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	configFile, _ := cmd.Flags().GetString("config")
	debugOverride, _ := cmd.Flags().GetBool("debug")

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, configFile, fmt.Errorf("failed to load configuration: %w", err)
	}
	if debugOverride {
		cfg.Logging.Level = "debug"
	}
	return cfg, configFile, nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		File:        cfg.Logging.File,
		MaxSize:     cfg.Logging.MaxSize,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAge:      cfg.Logging.MaxAge,
		Development: cfg.Logging.Level == "debug",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return log, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, configFile, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	hostOverride, _ := cmd.Flags().GetString("host")
	portOverride, _ := cmd.Flags().GetInt("port")
	profileOverride, _ := cmd.Flags().GetString("profile")
	if hostOverride != "" {
		cfg.Link.Host = hostOverride
	}
	if portOverride > 0 {
		cfg.Link.Port = portOverride
	}
	if profileOverride != "" {
		if _, ok := cfg.Profile(profileOverride); !ok {
			return fmt.Errorf("unknown profile %q", profileOverride)
		}
		cfg.Link.Profile = profileOverride
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("packet-nexus starting",
		logger.String("version", Version),
		logger.String("build_time", BuildTime),
		logger.String("config_file", configFile))

	n, err := node.New(cfg, log, Version, BuildTime)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info("Shutdown signal received", logger.String("signal", sig.String()))
		cancel()
	}()

	if err := n.Start(ctx); err != nil {
		log.Error("Node error", logger.Error(err))
		return err
	}

	return nil
}
