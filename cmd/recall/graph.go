package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/recalld/internal/eventlog"
	"github.com/fyrsmithlabs/recalld/internal/graph"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Manage the knowledge graph",
}

func init() {
	graphCmd.AddCommand(graphRebuildCmd)
}

var graphRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the knowledge graph from the event log",
	Long: `Replay the full event log and regenerate the knowledge graph from
scratch, replacing the existing graph file. Use this to recover from a
corrupt graph or to pick up entries an incremental update missed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		events, err := eventlog.NewStore(cfg.EventLogPath())
		if err != nil {
			return fmt.Errorf("open event log: %w", err)
		}
		g, err := graph.NewStore(cfg.GraphPath())
		if err != nil {
			return fmt.Errorf("open knowledge graph: %w", err)
		}

		entities, relations, err := g.Rebuild(events)
		if err != nil {
			return fmt.Errorf("rebuild graph: %w", err)
		}
		fmt.Printf("Rebuilt %s: %d entities, %d relations\n", cfg.GraphPath(), entities, relations)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show event log statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		events, err := eventlog.NewStore(cfg.EventLogPath())
		if err != nil {
			return fmt.Errorf("open event log: %w", err)
		}
		stats, err := events.Stats()
		if err != nil {
			return fmt.Errorf("read event log: %w", err)
		}

		fmt.Printf("Event log: %s\n", cfg.EventLogPath())
		fmt.Printf("Total records: %d\n", stats.Total)
		fmt.Printf("Sessions: %d\n", stats.Sessions)
		fmt.Printf("Summaries: %d\n", stats.Summaries)
		fmt.Printf("Observations: %d\n", stats.Observations)
		if stats.Unparseable > 0 {
			fmt.Printf("Unparseable: %d\n", stats.Unparseable)
		}

		kinds := make([]string, 0, len(stats.ByType))
		for k := range stats.ByType {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Printf("  %-20s %d\n", k, stats.ByType[eventlog.Kind(k)])
		}
		return nil
	},
}
