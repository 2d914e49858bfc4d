package commands

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/snapvault/snapvault/pkg/server"
)

func newServeCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline as a long-lived service",
		Long: `Serve the HTTP trigger surface and run batches on a schedule.

Triggers:
  - POST /            run a batch, or a digest with {"action": "..."}
  - periodic ticker   every configured interval
  - fsnotify          on new files under the watch path (local backend)

GET /metrics exposes Prometheus metrics and GET /healthz probes the journal.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := buildApp(ctx, version, "json")
			if err != nil {
				return err
			}
			defer a.Close()

			return serve(ctx, a)
		},
	}

	return cmd
}

func serve(ctx context.Context, a *app) error {
	log := a.tel.Logger
	srv := server.New(a.cfg.Server.Addr, a, a, a.tel.Metrics.Handler())

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.WithField("addr", a.cfg.Server.Addr).Info("http server listening")
		return srv.Start(ctx)
	})

	if a.cfg.Server.Interval > 0 {
		g.Go(func() error {
			return runInterval(ctx, a)
		})
	}
	if a.cfg.Server.WatchPath != "" {
		g.Go(func() error {
			return runWatcher(ctx, a)
		})
	}

	return g.Wait()
}

// runInterval triggers a batch on a fixed schedule. Batch errors are logged
// and the ticker keeps going; only cancellation stops it.
func runInterval(ctx context.Context, a *app) error {
	log := a.tel.Logger.WithField("interval", a.cfg.Server.Interval.String())
	log.Info("interval trigger active")

	ticker := time.NewTicker(a.cfg.Server.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := a.RunBatch(ctx); err != nil {
				log.WithError(err).Error("scheduled batch failed")
			}
		}
	}
}

// runWatcher triggers a batch when files land in the watched inbox. Events
// are debounced so a burst of screenshots becomes one batch.
func runWatcher(ctx context.Context, a *app) error {
	log := a.tel.Logger.WithField("path", a.cfg.Server.WatchPath)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(a.cfg.Server.WatchPath); err != nil {
		return err
	}
	log.Info("inbox watcher active")

	const debounce = 2 * time.Second
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("watch error")
		case <-timerC:
			timer = nil
			timerC = nil
			if _, err := a.RunBatch(ctx); err != nil {
				log.WithError(err).Error("watch-triggered batch failed")
			}
		}
	}
}
