package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vigilsec/vigilsec/internal/config"
	"github.com/vigilsec/vigilsec/internal/monitor"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show a summary from the running engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				cfg = config.Defaults()
			}

			url := fmt.Sprintf("http://%s:%d/api/v1/summary", cfg.Server.Bind, cfg.Server.Port)
			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get(url)
			if err != nil {
				return fmt.Errorf("engine not reachable at %s: %w", url, err)
			}
			defer func() { _ = resp.Body.Close() }()

			var summary monitor.Summary
			if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
				return fmt.Errorf("decoding summary: %w", err)
			}

			printSummary(summary)
			return nil
		},
	}
}

func printSummary(s monitor.Summary) {
	fmt.Println()
	fmt.Println("  vigilsec status")
	fmt.Println("  ────────────────────────────────────────")
	mode := "full"
	if s.Degraded {
		mode = color.YellowString("degraded (detection only)")
	}
	fmt.Printf("  Mode:               %s\n", mode)
	fmt.Printf("  Monitored entities: %d\n", s.MonitoredEntities)
	for etype, n := range s.ProfilesByType {
		fmt.Printf("    profiles (%s): %d\n", etype, n)
	}
	fmt.Printf("  Alerts last 24h:    %d\n", s.AlertsLast24h)
	fmt.Println("  Active alerts:")
	for _, sev := range []string{"critical", "high", "medium", "low"} {
		if n := s.ActiveBySeverity[sev]; n > 0 {
			fmt.Printf("    %s %d\n", severityColor(sev), n)
		}
	}
	if len(s.TopRiskEntities) > 0 {
		fmt.Println("  Top risk entities:")
		for _, r := range s.TopRiskEntities {
			fmt.Printf("    %-24s %s  score %.2f (%d alerts)\n", r.EntityID, r.EntityType, r.RiskScore, r.AlertCount)
		}
	}
	fmt.Println()
}
