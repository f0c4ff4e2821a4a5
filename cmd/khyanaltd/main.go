// Package main implements khyanaltd, the field-inspection backend daemon.
//
// Commands:
//   - serve    - run the HTTP API
//   - migrate  - apply schema migrations and exit
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"khyanalt/internal/aggregate"
	"khyanalt/internal/config"
	"khyanalt/internal/imaging"
	"khyanalt/internal/logging"
	"khyanalt/internal/mailer"
	"khyanalt/internal/report"
	"khyanalt/internal/server"
	"khyanalt/internal/store"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "khyanaltd",
	Short:         "Weighing-scale field-inspection backend",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := logging.Initialize(cfg.LogDir, cfg.DebugMode); err != nil {
			return err
		}
		st, err := store.Open(cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()
		logging.Boot("migrations applied to %s", cfg.DatabasePath)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "optional YAML config file")
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func runServe() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := logging.Initialize(cfg.LogDir, cfg.DebugMode); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer logging.CloseAll()
	logging.Boot("khyanaltd starting (listen=%s, db=%s)", cfg.ListenAddr, cfg.DatabasePath)

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer st.Close()

	files := imaging.NewFileStore(cfg.StoragePath, cfg.PublicURLBase, cfg.PublicURLPrefix)
	engine := aggregate.New(st)
	composer := report.NewComposer(st, files, cfg.TemplateDir, cfg.TemplateFile,
		cfg.ReportImageWidth, cfg.ReportImageHeight)
	var sender mailer.Sender = mailer.NewSMTPSender(cfg.SMTP)
	notifier := mailer.NewNotifier(st, composer, sender)

	srv := server.New(cfg, st, engine, files, composer, notifier)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Boot("listening on %s", cfg.ListenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case sig := <-sigCh:
		logging.Boot("received %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logging.Get(logging.CategoryBoot).Warnf("shutdown: %v", err)
		}
	}
	logging.Boot("khyanaltd stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "khyanaltd: %v\n", err)
		os.Exit(1)
	}
}
