package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opentalon/geminicog/internal/audit"
	"github.com/opentalon/geminicog/internal/config"
	"github.com/opentalon/geminicog/internal/steps/completion"
)

func newHistoryCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [step-id]",
		Short: "Print recent audit records for a step as JSON",
		Long:  "Read the newest audit records for a step from the configured sqlite or postgres audit sink.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			stepID := completion.WordCountID
			if len(args) == 1 {
				stepID = args[0]
			}
			recs, err := history(cmd.Context(), cfg.Audit, stepID, limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), recs)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of records")
	return cmd
}

func history(ctx context.Context, cfg config.AuditConfig, stepID string, limit int) ([]audit.Record, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("--limit must be positive")
	}
	sink, err := audit.Open(ctx, cfg.SinkConfig())
	if err != nil {
		return nil, fmt.Errorf("open audit sink: %w", err)
	}
	if sink == nil {
		return nil, fmt.Errorf("history: audit sink is %q", audit.SinkNone)
	}
	defer sink.Close()
	s, ok := sink.(*audit.SQLSink)
	if !ok {
		return nil, fmt.Errorf("history: audit sink %q cannot be queried, use sqlite or postgres", cfg.Sink)
	}
	recs, err := s.Recent(ctx, stepID, limit)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []audit.Record{}
	}
	return recs, nil
}
