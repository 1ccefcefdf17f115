package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"dragcal/internal/config"
	"dragcal/internal/ics"
	applog "dragcal/internal/log"
	"dragcal/internal/obs"
	"dragcal/internal/snap"
	"dragcal/internal/store"
	"dragcal/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
}

func main() {
	applog.Info("dragcal starting", "version", "0.1.0")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		applog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	applog.SetLevel(applog.ParseLevel(conf.LogLevel))

	applog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"feed_count", len(conf.Feeds),
		"px_per_day", conf.Drag.PxPerDay,
		"px_per_minute", conf.Drag.PxPerMinute,
		"lock_time", conf.Drag.LockTime,
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		applog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	loc, err := time.LoadLocation(conf.Timezone)
	if err != nil {
		applog.Error("failed to load timezone; falling back to local", err, "timezone", conf.Timezone)
		loc = time.Local
	}

	feeds := make([]ics.Feed, 0, len(conf.Feeds))
	for _, fc := range conf.Feeds {
		if fc.URL == "" {
			continue
		}
		id := fc.ID
		if id == "" {
			if fc.Name != "" {
				id = fc.Name
			} else {
				id = fc.URL
			}
		}
		feeds = append(feeds, ics.Feed{ID: id, URL: fc.URL})
	}

	metrics := obs.NewMetrics()
	fetcher := ics.NewFetcher(filepath.Join(conf.DataDir, "feed-cache"))
	st := store.New(fetcher, feeds, loc, conf.HorizonDays, 1, metrics)

	if err := st.Refresh(ctx); err != nil {
		applog.Error("initial refresh failed", err)
	}
	if flags.once {
		applog.Info("single refresh complete, exiting")
		return
	}

	// Periodic refresh on the configured cron schedule.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(conf.RefreshCron, func() {
		if err := st.Refresh(ctx); err != nil {
			applog.Error("scheduled refresh failed", err)
		}
	}); err != nil {
		applog.Error("invalid refresh schedule", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	srv := web.NewServer(conf, st, metrics)
	if conf.Snap.DOMURL != "" {
		go attachDOMSnap(ctx, srv, conf.Snap)
	}

	if err := srv.Serve(ctx); err != nil {
		applog.Error("HTTP server failed", err)
		os.Exit(1)
	}

	applog.Info("dragcal exiting")
}

// attachDOMSnap brings up the headless-Chromium hit-test backend and
// installs it as the session snap fallback. The grid page is usually
// served by this process, so the first attempts can race the listener;
// retry briefly before giving up.
func attachDOMSnap(ctx context.Context, srv *web.Server, sc config.SnapConfig) {
	var (
		dom *snap.DOMResolver
		err error
	)
	for attempt := 0; attempt < 5; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
		dom, err = snap.NewDOMResolver(ctx, snap.DOMOptions{
			URL:    sc.DOMURL,
			Width:  sc.Width,
			Height: sc.Height,
		})
		if err == nil {
			break
		}
	}
	if err != nil {
		applog.Error("DOM snap backend unavailable; sessions rely on client zones", err, "url", sc.DOMURL)
		return
	}

	srv.SetSnapFallback(dom)
	applog.Info("DOM snap backend attached", "url", sc.DOMURL)

	go func() {
		<-ctx.Done()
		dom.Close()
	}()
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/dragcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one feed refresh and exit")

	flag.Parse()

	return cfg
}
