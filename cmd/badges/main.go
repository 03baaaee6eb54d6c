// badges prints how many canteens earn each EGAlim badge for a year.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME_2=... go run ./cmd/badges --year 2021 [--region 84] [--json]
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mmdatafocus/macantine_backend/config"
	"github.com/mmdatafocus/macantine_backend/models"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		year   int
		region string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "badges",
		Short: "Count badges earned by canteens for a year",
		RunE: func(cmd *cobra.Command, args []string) error {
			if year < 2000 || year > 2100 {
				return fmt.Errorf("invalid --year %d", year)
			}
			config.ConnectDatabaseWithRetry()
			report, err := models.GetBadgeReport(context.Background(), year, region)
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), report, asJSON)
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "diagnostic year (required)")
	cmd.Flags().StringVar(&region, "region", "", "restrict to one region code")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	_ = cmd.MarkFlagRequired("year")
	return cmd
}

func printReport(w io.Writer, report *models.BadgeReport, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	scope := "all regions"
	if report.Region != "" {
		scope = "region " + report.Region
	}
	fmt.Fprintf(w, "%d diagnostics for %d (%s)\n", report.Diagnostics, report.Year, scope)
	for _, b := range models.AllBadges {
		fmt.Fprintf(w, "%-16s %d\n", b, report.Counts[b])
	}
	return nil
}
