package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"lessongate/internal/blob"
	"lessongate/internal/cache"
)

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the topic cache",
	}
	cmd.AddCommand(
		cacheAction("stats", "Show entry counts and size per content type", func(w io.Writer, c *cache.TopicCache, cmd *cobra.Command) error {
			st, err := c.Stats(cmd.Context())
			if err != nil {
				return err
			}
			printStats(w, st)
			return nil
		}),
		cacheAction("clear-expired", "Remove entries older than the cache TTL", func(w io.Writer, c *cache.TopicCache, cmd *cobra.Command) error {
			fmt.Fprintf(w, "removed %d expired entries\n", c.ClearExpired(cmd.Context()))
			return nil
		}),
		cacheAction("clear-all", "Remove every cached entry", func(w io.Writer, c *cache.TopicCache, cmd *cobra.Command) error {
			fmt.Fprintf(w, "removed %d entries\n", c.ClearAll(cmd.Context()))
			return nil
		}),
	)
	return cmd
}

func cacheAction(use, short string, run func(io.Writer, *cache.TopicCache, *cobra.Command) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if strings.EqualFold(cfg.Cache.Backend, blob.BackendMemory) {
				return fmt.Errorf("cache backend %q is process-local, nothing to administer", cfg.Cache.Backend)
			}

			store, closeStore, err := openStore(cmd.Context(), cfg.Cache, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			topics := cache.New(store, cache.Config{MaxAge: cfg.Cache.TTL}, logger)
			return run(cmd.OutOrStdout(), topics, cmd)
		},
	}
}

func printStats(w io.Writer, st cache.Stats) {
	fmt.Fprintf(w, "%-12s %d\n", "entries", st.Entries)
	for _, t := range cache.ContentTypes {
		fmt.Fprintf(w, "  %-10s %d\n", t, st.Counts[t])
	}
	fmt.Fprintf(w, "%-12s %s\n", "size", st.TotalSizeHuman)
	fmt.Fprintf(w, "%-12s %s\n", "max age", st.MaxAge)
}
