// Package serve runs the live mode: watch the source tree, batch changes
// on a fixed interval, rebuild through a single-flight gate, and serve the
// built site over HTTP.
package serve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/sitepress/internal/logfields"
	"git.home.luguber.info/inful/sitepress/internal/metrics"
	"git.home.luguber.info/inful/sitepress/internal/watch"
)

// Options configures one serving session. Rebuild is invoked with an empty
// batch once at startup (full build) and afterwards with each flushed
// change batch; Sync, when set, runs every SyncEvery.
type Options struct {
	Addr      string
	Root      string // source tree to watch
	Dir       string // built site directory to serve
	Interval  time.Duration
	SyncEvery time.Duration
	Rebuild   func(context.Context, watch.Batch) error
	Sync      func(context.Context) error
	Metrics   http.Handler // optional, mounted at /metrics
	Recorder  metrics.Recorder
}

// Run serves until ctx is canceled. The initial build must succeed;
// everything after that is best effort and logged.
func Run(ctx context.Context, opts Options) error {
	if opts.Rebuild == nil {
		return errors.New("serve: Rebuild is required")
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}

	st := newStatus()
	if err := opts.Rebuild(ctx, watch.Batch{}); err != nil {
		return fmt.Errorf("initial build: %w", err)
	}
	st.recordBuild(nil, nil)

	g := newGate(func(ctx context.Context, batch watch.Batch) error {
		recorder.ObserveBatchSize(len(batch.Added), len(batch.Removed))
		slog.Info("Change detected; rebuilding site",
			slog.Int("added", len(batch.Added)), slog.Int("removed", len(batch.Removed)))
		err := opts.Rebuild(ctx, batch)
		st.recordBuild(batch.Added, err)
		return err
	})

	batcher := watch.NewBatcher(opts.Interval, nil, g.Request)
	watcher, err := watch.NewWatcher(opts.Root, batcher)
	if err != nil {
		return fmt.Errorf("watch %s: %w", opts.Root, err)
	}
	defer watcher.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go g.Run(ctx)
	go batcher.Run(ctx)
	go watcher.Run(ctx)

	if opts.Sync != nil && opts.SyncEvery > 0 {
		stop, err := startSyncScheduler(ctx, opts.SyncEvery, opts.Sync)
		if err != nil {
			return err
		}
		defer stop()
	}

	return serveHTTP(ctx, opts, st)
}

func startSyncScheduler(ctx context.Context, every time.Duration, sync func(context.Context) error) (func(), error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() {
			if err := sync(ctx); err != nil {
				slog.Warn("periodic sync failed", logfields.Error(err))
			}
		}),
		gocron.WithName("periodic-sync"),
	)
	if err != nil {
		return nil, fmt.Errorf("schedule periodic sync: %w", err)
	}
	s.Start()
	return func() {
		if err := s.Shutdown(); err != nil {
			slog.Warn("scheduler shutdown failed", logfields.Error(err))
		}
	}, nil
}

func serveHTTP(ctx context.Context, opts Options, st *status) error {
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.Dir(opts.Dir)))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/status", st.handler())
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}

	server := &http.Server{
		Addr:         opts.Addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Serving site", logfields.Path(opts.Dir), slog.String("addr", opts.Addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}
