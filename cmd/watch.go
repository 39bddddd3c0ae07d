package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	apperrors "github.com/conneroisu/assetpipe/internal/errors"
	"github.com/conneroisu/assetpipe/internal/livereload"
	"github.com/conneroisu/assetpipe/internal/proxy"
	"github.com/conneroisu/assetpipe/internal/watcher"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"w"},
	Short:   "Proxy proxyUrl with live reload and rebuild categories on change",
	Long: `Start the live-reload proxy in front of proxyUrl, build every category
and watch src/ for changes. A change rebuilds only the categories whose
sources matched: styles are injected into open pages, everything else
reloads them.

Examples:
  assetpipe watch                          # Uses proxyUrl from config.json
  assetpipe watch --port 3001              # Listen on another port
  ASSETPIPE_PROXYURL=http://localhost:8080 assetpipe watch`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().IntP("port", "p", 3000, "Port the live-reload proxy listens on")
	watchCmd.Flags().String("host", "localhost", "Host the live-reload proxy binds to")
	watchCmd.Flags().Duration("debounce", 100*time.Millisecond, "Quiet period before a burst of changes is rebuilt")
	watchCmd.Flags().Bool("build-first", true, "Clean and build every category before watching")
	_ = viper.BindPFlag("server.port", watchCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.host", watchCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("watch.debounce", watchCmd.Flags().Lookup("debounce"))
	_ = viper.BindPFlag("watch.buildFirst", watchCmd.Flags().Lookup("build-first"))
}

func runWatch(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	cfg := a.cfg
	if err := cfg.ValidateForWatch(); err != nil {
		return apperrors.NewEnhancedError("Cannot start watch", err,
			apperrors.ConfigurationError(err.Error(), viper.ConfigFileUsed()))
	}
	upstream, err := cfg.Upstream()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := livereload.NewHub(livereload.HubOptions{
		Recorder: a.metricsRecorder(),
		Logger:   a.logger,
	})
	defer func() {
		_ = hub.Shutdown(context.Background())
	}()

	var metricsHandler http.Handler
	if a.recorder != nil {
		metricsHandler = a.recorder.Handler()
	}
	srv, err := proxy.New(cfg.Server.Address(), proxy.Options{
		Upstream: upstream,
		Socket:   hub,
		Client:   livereload.ClientScript,
		Metrics:  metricsHandler,
		Logger:   a.logger,
	})
	if err != nil {
		return err
	}

	a.checkCompiler(ctx, a.catalog.All()...)
	if cfg.Watch.BuildFirst {
		if err := buildAll(ctx, a, a.catalog.All(), cmd.OutOrStdout()); err != nil {
			a.logger.Warn(ctx, err, "Initial build had failures; watching anyway")
		}
	}

	orch := a.orchestrator(hub)
	session := orch.NewSession()

	fw, err := watcher.NewFileWatcher(cfg.Watch.Debounce, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Stop()

	if err := session.Watch(fw); err != nil {
		return err
	}

	sessionCtx, cancelSession := context.WithCancel(ctx)
	defer func() {
		cancelSession()
		session.Wait()
	}()
	if err := session.Start(sessionCtx); err != nil {
		return err
	}
	if err := fw.Start(sessionCtx); err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "👀 Watching %s\n", a.catalog.Root())
	fmt.Fprintf(cmd.OutOrStdout(), "🔁 Proxying %s at http://%s\n", upstream, srv.Addr())
	if a.recorder != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "📈 Metrics at http://%s%s\n", srv.Addr(), proxy.MetricsPath)
	}

	if err := srv.Start(ctx); err != nil {
		return apperrors.NewEnhancedError("Live-reload proxy failed", err,
			apperrors.ServerStartError(err, cfg.Server.Port))
	}

	fmt.Fprintln(cmd.OutOrStdout(), "👋 Stopped watching")
	return nil
}
