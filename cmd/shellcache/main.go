package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/travelplan/shellcache/internal/cache"
	"github.com/travelplan/shellcache/internal/config"
	"github.com/travelplan/shellcache/internal/proxy"
	"github.com/travelplan/shellcache/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "shellcache",
		Short:         "Offline cache proxy for the travel plan app",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to the configuration file")

	root.AddCommand(
		newServeCmd(&configPath),
		newInstallCmd(&configPath),
		newActivateCmd(&configPath),
		newStoresCmd(&configPath),
	)

	return withErrorLogging(root)
}

// withErrorLogging reports command failures through logrus
func withErrorLogging(root *cobra.Command) *cobra.Command {
	for _, cmd := range root.Commands() {
		run := cmd.RunE
		cmd.RunE = func(cmd *cobra.Command, args []string) error {
			err := run(cmd, args)
			if err != nil {
				logrus.Error(err)
			}
			return err
		}
	}
	return root
}

// loadConfig reads, validates and applies the logging settings of the configuration
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.SetupLogging(); err != nil {
		return nil, fmt.Errorf("invalid logging configuration: %w", err)
	}
	return cfg, nil
}

// openController prepares the storage and the controller without a proxy
func openController(cfg *config.Config) (cache.Storage, *worker.Controller, error) {
	storage, err := cache.New(cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	if err := storage.Init(); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	controller, err := worker.FromConfig(cfg, storage, prometheus.NewRegistry())
	if err != nil {
		_ = storage.Close()
		return nil, nil, err
	}
	return storage, controller, nil
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the caching proxy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			server, err := proxy.New(cfg)
			if err != nil {
				return fmt.Errorf("failed to create proxy server: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start()
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			logrus.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			err = server.Shutdown(shutdownCtx)
			select {
			case startErr := <-errCh:
				return errors.Join(err, startErr)
			case <-shutdownCtx.Done():
				return errors.Join(err, shutdownCtx.Err())
			}
		},
	}
}

func newInstallCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Precache the app shell of the configured version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			storage, controller, err := openController(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = storage.Close() }()

			if err := controller.OnInstall(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), controller.StaticStoreName())
			return nil
		},
	}
}

func newActivateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "activate",
		Short: "Delete the stores of every other version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			storage, controller, err := openController(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = storage.Close() }()

			if _, err := controller.Restore(cmd.Context()); err != nil {
				return err
			}
			deleted, err := controller.OnActivate(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range deleted {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newStoresCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stores",
		Short: "List the stores in the configured storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			storage, err := cache.New(cfg.Storage)
			if err != nil {
				return err
			}
			if err := storage.Init(); err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer func() { _ = storage.Close() }()

			names, err := storage.Names(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
