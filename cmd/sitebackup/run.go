package main

import (
	"context"
	"fmt"

	"github.com/Sternrassler/sitebackup/pkg/checkpoint"
	"github.com/Sternrassler/sitebackup/pkg/client"
	"github.com/Sternrassler/sitebackup/pkg/config"
	"github.com/Sternrassler/sitebackup/pkg/metrics"
	"github.com/Sternrassler/sitebackup/pkg/pagination"
	"github.com/Sternrassler/sitebackup/pkg/runner"
	"github.com/Sternrassler/sitebackup/pkg/scrape"
	"github.com/Sternrassler/sitebackup/pkg/sqlite"
	"github.com/Sternrassler/sitebackup/pkg/transport"
	"gopkg.in/yaml.v2"
)

// Run executes the run command.
func (c *RunCmd) Run(deps *Dependencies) error {
	cfg := deps.Config

	selected, err := selectTasks(cfg, c.Task)
	if err != nil {
		return err
	}

	clientCfg, err := clientConfig(cfg, c.Debug)
	if err != nil {
		return err
	}
	cl, err := client.New(clientCfg)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer cl.Close()

	db := sqlite.NewDB(cfg.Storage.SQLitePath)
	if err := db.Open(); err != nil {
		return err
	}
	defer db.Close()
	records := sqlite.NewRecordStore(db)

	if c.Fresh {
		for _, tc := range selected {
			if err := deps.Store.Delete(deps.Ctx, tc.Name); err != nil {
				return fmt.Errorf("failed to clear checkpoint %s: %w", tc.Name, err)
			}
		}
	}

	registry := checkpoint.NewRegistry(deps.Store, deps.Logger.With().Str("component", "checkpoint").Logger())

	tasks := make([]runner.Task, 0, len(selected))
	for _, tc := range selected {
		spec, err := listSpec(tc)
		if err != nil {
			return err
		}
		logger := deps.Logger.With().Str("task", tc.Name).Logger()
		tasks = append(tasks, scrape.NewRPCListTask(spec, cl, registry, records, &logger))
	}

	ctx, cancel := context.WithCancel(deps.Ctx)
	defer cancel()

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, deps.Logger); err != nil {
				deps.Logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	opts := []runner.Option{
		runner.WithLogger(deps.Logger.With().Str("component", "runner").Logger()),
	}
	if deps.Exit != nil {
		opts = append(opts, runner.WithExit(deps.Exit))
	}
	if deps.Signals != nil {
		opts = append(opts, runner.WithSignals(deps.Signals))
	}

	deps.Code = runner.New(registry, opts...).Run(ctx, tasks...)
	return nil
}

func selectTasks(cfg *config.Config, names []string) ([]config.TaskConfig, error) {
	if len(names) == 0 {
		if len(cfg.Tasks) == 0 {
			return nil, fmt.Errorf("no tasks configured")
		}
		return cfg.Tasks, nil
	}

	out := make([]config.TaskConfig, 0, len(names))
	for _, name := range names {
		tc, ok := cfg.Task(name)
		if !ok {
			return nil, fmt.Errorf("unknown task %q", name)
		}
		out = append(out, tc)
	}
	return out, nil
}

func clientConfig(cfg *config.Config, debug bool) (client.Config, error) {
	order, err := client.ParseCookieOrder(cfg.Site.CookieOrder)
	if err != nil {
		return client.Config{}, err
	}

	cc := client.DefaultConfig(cfg.Site.BaseURL, cfg.Site.UserAgent)
	cc.APIPath = cfg.Site.APIPath
	cc.SessionID = cfg.Site.SessionID
	cc.CSRFToken = cfg.Site.CSRFToken
	cc.APIKey = cfg.Site.APIKey
	cc.SessionCookieName = cfg.Site.SessionCookie
	cc.CSRFCookieName = cfg.Site.CSRFCookie
	cc.CookieOrder = order
	cc.Retry.MaxAttempts = cfg.Retry.MaxAttempts
	cc.Retry.Delay = cfg.Retry.Delay
	cc.Retry.RetryableStatuses = cfg.Retry.RetryableStatuses
	cc.ThrottleSpacing = cfg.Throttle.Spacing
	cc.Debug = cfg.Debug.Enabled || debug
	cc.DebugDir = cfg.Debug.Dir
	cc.RedactKey = cfg.Debug.Redact
	return cc, nil
}

func listSpec(tc config.TaskConfig) (scrape.ListSpec, error) {
	mode, ok := pagination.ParseMode(tc.Mode)
	if !ok {
		return scrape.ListSpec{}, fmt.Errorf("task %s: unknown mode %q", tc.Name, tc.Mode)
	}
	return scrape.ListSpec{
		Name:       tc.Name,
		Method:     tc.Method,
		Params:     params(tc.Params),
		PageParam:  tc.PageParam,
		Mode:       mode,
		MaxPages:   tc.MaxPages,
		ItemsField: tc.ItemsField,
		TotalField: tc.TotalField,
		IDField:    tc.IDField,
	}, nil
}

// params keeps the configured key order.
func params(ms yaml.MapSlice) transport.Params {
	out := make(transport.Params, 0, len(ms))
	for _, item := range ms {
		out = append(out, transport.Param{Key: fmt.Sprint(item.Key), Value: item.Value})
	}
	return out
}
