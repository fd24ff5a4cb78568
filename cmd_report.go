package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"autotrade-core/internal/export"
	"autotrade-core/internal/ledger"
	"autotrade-core/pkg/i18n"
)

func newReportCmd() *cobra.Command {
	var date, out string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export the trade log and profit graph for a past day",
		RunE: func(cmd *cobra.Command, _ []string) error {
			day := time.Now()
			if date != "" {
				d, err := time.ParseInLocation("20060102", date, time.Local)
				if err != nil {
					return fmt.Errorf("invalid --date %q, want YYYYMMDD", date)
				}
				day = d
			}

			cfg, logger, database, cleanup, err := bootstrap()
			if err != nil {
				return err
			}
			defer cleanup()
			if out == "" {
				out = cfg.LogDir
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			rows, err := database.ListTradesByDay(ctx, day)
			if err != nil {
				return err
			}
			records := ledger.FromRows(rows)
			if len(records) == 0 {
				logger.Info(fmt.Sprintf(i18n.Get("ReportNoTrades"), day.Format("2006-01-02")))
			}

			path, err := export.WriteTradeLog(out, day, records)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), i18n.Get("ReportWritten")+"\n", path)

			path, err = export.WriteProfitGraph(out, day, ledger.AggregateDaily(records), cfg.TargetProfitRate, cfg.MaxLossRate)
			switch {
			case errors.Is(err, export.ErrNoSells):
				return nil
			case err != nil:
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), i18n.Get("ReportWritten")+"\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "trading day as YYYYMMDD (default today)")
	cmd.Flags().StringVar(&out, "out", "", "output directory (default LOG_DIR)")
	return cmd
}
