package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/Devinfern/sanghos-sub004/internal/agg"
	"github.com/Devinfern/sanghos-sub004/internal/config"
	"github.com/Devinfern/sanghos-sub004/internal/geo"
	appLog "github.com/Devinfern/sanghos-sub004/internal/log"
	"github.com/Devinfern/sanghos-sub004/internal/model"
	"github.com/Devinfern/sanghos-sub004/internal/source"
	"github.com/Devinfern/sanghos-sub004/internal/store"
	"github.com/Devinfern/sanghos-sub004/internal/web"
)

var (
	flagConfig string
	flagDebug  bool
)

func main() {
	root := &cobra.Command{
		Use:           "sanghos",
		Short:         "Aggregates wellness retreats and events from multiple sources",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			appLog.SetDebug(flagDebug)
		},
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "./sanghos.yaml", "Path to config file")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")

	root.AddCommand(newServeCmd(), newFetchCmd())

	if err := root.Execute(); err != nil {
		appLog.Error("command failed", err)
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the aggregation service with scheduled refresh and HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Run one aggregation pass and print the snapshot as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFetch(cmd.Context())
		},
	}
}

// buildApp wires config, store, fetchers, aggregator and locator.
func buildApp(cfg *config.Config) (*agg.Aggregator, geo.Locator, *store.Store, error) {
	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return nil, nil, nil, err
	}

	client := source.NewClient(st)

	fetchers := make([]source.Fetcher, 0, 2+len(cfg.PartnerICS))
	if cfg.Sanghos.URL != "" {
		fetchers = append(fetchers, source.NewSanghosFetcher(cfg.Sanghos.ID, cfg.Sanghos.URL, client))
	}
	if cfg.InsightLA.URL != "" {
		fetchers = append(fetchers, source.NewInsightLAFetcher(cfg.InsightLA.ID, cfg.InsightLA.URL, client))
	}
	for _, feed := range cfg.PartnerICS {
		if feed.URL == "" {
			continue
		}
		fetchers = append(fetchers, source.NewPartnerICSFetcher(feed.ID, feed.URL, client, cfg.HorizonDays, nil))
	}
	if len(fetchers) == 0 {
		st.Close()
		return nil, nil, nil, errors.New("no sources configured; set sanghos.url, insightla.url or partner_ics")
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", cfg.Timezone)
		loc = time.Local
	}
	clock := func() time.Time { return time.Now().In(loc) }

	aggregator := agg.New(fetchers, agg.WithClock(clock))

	// Location resolution order: pinned config location, saved preference,
	// then the geolocation endpoint (cached for five minutes).
	locators := make([]geo.Locator, 0, 3)
	if cfg.Location != nil {
		locators = append(locators, geo.Fixed(model.UserLocation{
			Coordinates: model.Coordinates{Lat: cfg.Location.Lat, Lng: cfg.Location.Lng},
			Address:     cfg.Location.Address,
		}))
	}
	locators = append(locators, geo.Stored(st))
	if cfg.GeolocateURL != "" {
		// A fresh resolution is saved so the stored-preference link can
		// answer on later runs without the endpoint.
		locators = append(locators, geo.Cached(geo.Saving(geo.NewHTTPLocator(cfg.GeolocateURL), st)))
	}

	return aggregator, geo.Chain(locators...), st, nil
}

func runServe(parent context.Context) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	aggregator, locator, st, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	// First pass up front so the API starts populated.
	if _, err := aggregator.Refresh(ctx); err != nil {
		appLog.Error("initial aggregation pass failed", err)
	}

	sched := cron.New()
	if _, err := sched.AddFunc(cfg.RefreshCron, func() {
		if _, err := aggregator.Refresh(ctx); err != nil {
			appLog.Error("scheduled aggregation pass failed", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", cfg.RefreshCron, err)
	}
	sched.Start()
	defer sched.Stop()

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: web.NewServer(cfg, aggregator, locator, nil).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLog.Error("server shutdown failed", err)
		}
		appLog.Sync()
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func runFetch(ctx context.Context) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	aggregator, _, st, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	res, err := aggregator.Refresh(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
