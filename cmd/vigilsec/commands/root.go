package commands

import (
	"github.com/spf13/cobra"
)

var cfgFile string

func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "vigilsec",
		Short: "Behavioral anomaly detection and alerting engine",
		Long: "Vigilsec builds per-entity behavior baselines for users, worker agents " +
			"and the system, scores incoming activity against them, raises and correlates " +
			"security alerts, and applies time-boxed automated mitigations.",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "vigilsec.yaml", "config file path")

	root.AddCommand(
		newServeCmd(),
		newStatusCmd(),
		newAlertsCmd(),
		newMitigationsCmd(),
		newInitCmd(),
		newVersionCmd(),
	)

	return root
}
