package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/radialmonster/flickr-justified-block-sub001/pkg/cache"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/config"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/logging"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/warmer"
)

type appKeyType struct{}

var appKey appKeyType

// newRootCmd builds the CLI. Every subcommand gets a wired app through the
// command context.
func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "gallery-warmer",
		Short:         "Keeps the Flickr gallery cache warm within the hourly API budget",
		SilenceUsage:  true,
		SilenceErrors: false,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			lc := cfg.LoggingConfig()
			lc.Output = cmd.ErrOrStderr()
			logger := logging.Setup(lc)

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app); ok {
				a.Close()
			}
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default: $GALLERY_CONFIG or ./gallery.yaml)")

	root.AddCommand(
		newServeCmd(),
		newCycleCmd(),
		newRebuildCmd(),
		newEnqueueCmd(),
		newResetBulkCmd(),
		newClearCacheCmd(),
		newStatusCmd(),
	)
	return root
}

func appFrom(cmd *cobra.Command) *app {
	a, _ := cmd.Context().Value(appKey).(*app)
	return a
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the warm scheduler and the HTTP status server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			if err := a.requireUpstream(); err != nil {
				return err
			}
			sched := warmer.NewScheduler(a.warmer, a.cfg.Tier(), a.component("scheduler"))
			a.logger.Info().
				Str("addr", a.cfg.Server.Addr).
				Str("mode", a.cfg.Warmer.Mode).
				Str("cache_backend", a.cfg.Cache.Backend).
				Msg("Starting gallery warmer")

			err := newSupervisor(a, sched).Serve(cmd.Context())
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		},
	}
}

func newCycleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Run one warm cycle and print its report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			if err := a.requireUpstream(); err != nil {
				return err
			}
			report, err := a.warmer.RunCycle(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
}

func newRebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Rescan all documents, rebuild the known resource registry and reseed the queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := appFrom(cmd).admin.RebuildKnownResources(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]int{"resources": n})
		},
	}
}

func newEnqueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <url|photo-id>",
		Short: "Schedule one resource for immediate warming",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := appFrom(cmd).admin.EnqueueResource(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%q is not a Flickr photo, album or photostream", args[0])
			}
			return printJSON(cmd, map[string]bool{"enqueued": true})
		},
	}
}

func newResetBulkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-bulk",
		Short: "Drop photo jobs and reseed collections only",
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := appFrom(cmd).admin.ResetQueueToBulkMode(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]int{"collection_jobs": n})
		},
	}
}

func newClearCacheCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-cache",
		Short: "Invalidate every cached entry and reseed the queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := appFrom(cmd).admin.ClearCache(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]int64{"cache_version": v})
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print quota, queue and cache state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := appFrom(cmd).admin.Status(cache.WithMemo(cmd.Context()))
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		},
	}
}
