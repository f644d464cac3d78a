package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vigilsec/vigilsec/internal/alert"
	"github.com/vigilsec/vigilsec/internal/config"
)

func newAlertsCmd() *cobra.Command {
	var entityID, alertType, status, severity string
	var sinceHours, limit int

	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Query the alert history log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				cfg = config.Defaults()
			}

			logger := newLogger("error")
			history, err := alert.NewHistory(cfg.HistoryDB, logger)
			if err != nil {
				return err
			}
			defer func() { _ = history.Close() }()

			opts := alert.QueryOpts{
				EntityID:  entityID,
				AlertType: alertType,
				Status:    status,
				Severity:  severity,
				Limit:     limit,
			}
			if sinceHours > 0 {
				opts.Since = time.Now().Add(-time.Duration(sinceHours) * time.Hour)
			}

			alerts, err := history.Query(opts)
			if err != nil {
				return err
			}
			if len(alerts) == 0 {
				fmt.Println("No alerts found.")
				return nil
			}

			for _, a := range alerts {
				printAlert(a)
			}
			fmt.Printf("\n%d alert(s)\n", len(alerts))
			return nil
		},
	}

	cmd.Flags().StringVar(&entityID, "entity", "", "filter by entity id")
	cmd.Flags().StringVar(&alertType, "type", "", "filter by alert type")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&severity, "severity", "", "filter by severity")
	cmd.Flags().IntVar(&sinceHours, "since", 0, "only alerts from the last N hours")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum alerts to show")
	return cmd
}

func printAlert(a alert.Alert) {
	fmt.Printf("%s  %s  %s  [%s]  %s\n",
		a.DetectedAt.Local().Format("2006-01-02 15:04"),
		severityColor(string(a.Severity)),
		a.AlertType,
		a.Status,
		a.EntityID,
	)
	if len(a.Indicators) > 0 {
		fmt.Printf("    %s\n", strings.Join(a.Indicators, "; "))
	}
	if a.Resolution != "" {
		fmt.Printf("    resolved: %s\n", a.Resolution)
	}
}

func severityColor(sev string) string {
	padded := fmt.Sprintf("%-8s", sev)
	switch sev {
	case "critical":
		return color.New(color.FgRed, color.Bold).Sprint(padded)
	case "high":
		return color.New(color.FgRed).Sprint(padded)
	case "medium":
		return color.New(color.FgYellow).Sprint(padded)
	default:
		return color.New(color.FgCyan).Sprint(padded)
	}
}
