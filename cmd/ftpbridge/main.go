// ftpbridge serves the storage server's files over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path"
	"runtime"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gin-gonic/gin"
	bridge "github.com/prife/ftpbridge"
	"github.com/prife/ftpbridge/httpapi"
	"github.com/prife/ftpbridge/internal/config"
	"github.com/prife/ftpbridge/internal/events"
	"github.com/prife/ftpbridge/internal/listcache"
	"github.com/prife/ftpbridge/services"
	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

func initLog(level log.Level) {
	log.SetReportCaller(true)
	log.SetFormatter(&log.TextFormatter{
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			filename := path.Base(f.File)
			return "", fmt.Sprintf("%s:%d", filename, f.Line)
		},
	})
	log.SetLevel(level)
}

func main() {
	var cfg config.Config
	app := kingpin.New("ftpbridge", "HTTP bridge to the image storage server.")
	cfg.Register(app)
	probeInterval := app.Flag("probe-interval", "How often to check the storage server, 0 disables.").
		Envar("FTPBRIDGE_PROBE_INTERVAL").Default("30s").Duration()
	kingpin.MustParse(app.Parse(os.Args[1:]))

	if err := cfg.Validate(); err != nil {
		app.Fatalf("%v", err)
	}
	level, _ := cfg.Level()
	initLog(level)

	if err := run(&cfg, *probeInterval); err != nil {
		log.Fatal(err)
	}
}

func run(cfg *config.Config, probeInterval time.Duration) error {
	logger := log.StandardLogger()

	b, err := bridge.NewWithConfig(cfg.ServerConfig(logger))
	if err != nil {
		return err
	}

	cache, err := listcache.New(cfg.CacheOptions(logger))
	if err != nil {
		return err
	}
	if closer, ok := cache.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	publisher, err := events.Connect(cfg.NATSURL, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	if level, _ := cfg.Level(); level < log.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	var monitor *services.Monitor
	if probeInterval > 0 {
		monitor = &services.Monitor{}
	}
	h := httpapi.NewHandler(httpapi.Options{
		Bridge:         b,
		Cache:          cache,
		Events:         publisher,
		ScratchDir:     cfg.ScratchDir,
		MaxUploadFiles: cfg.MaxUploadFiles,
		Monitor:        monitor,
		Logger:         logger,
	})
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           httpapi.NewRouter(h, cfg.MaxUploadMemory),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if monitor != nil {
		go services.Probe(ctx, b, probeInterval, monitor.Record)
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("listen", cfg.Listen).WithField("storage", b.Address()).Info("ftpbridge started")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
