package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vigilsec/vigilsec/internal/config"
	"github.com/vigilsec/vigilsec/internal/mitigate"
	"github.com/vigilsec/vigilsec/internal/ttlstore"
)

func newMitigationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mitigations",
		Short: "Inspect and remove active mitigations",
	}
	cmd.AddCommand(newMitigationsListCmd(), newMitigationsRemoveCmd())
	return cmd
}

func mitigationController(ctx context.Context) (*mitigate.Controller, func(), error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		cfg = config.Defaults()
	}
	logger := newLogger("error")

	store := ttlstore.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		return nil, nil, fmt.Errorf("ttl store not reachable: %w", err)
	}
	cleanup := func() { _ = store.Close() }
	return mitigate.NewController(store, nil, logger), cleanup, nil
}

func newMitigationsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active mitigations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, cleanup, err := mitigationController(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			facts, err := ctrl.Active(cmd.Context())
			if err != nil {
				return err
			}
			if len(facts) == 0 {
				fmt.Println("No active mitigations.")
				return nil
			}
			for _, f := range facts {
				fmt.Printf("%-22s %-8s %-24s expires in %s\n",
					f.Type, f.EntityType, f.EntityID, f.ExpiresIn.Round(time.Second))
			}
			return nil
		},
	}
}

func newMitigationsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <type> <entity-id>",
		Short: "Remove a mitigation before its TTL expires",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, cleanup, err := mitigationController(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			if err := ctrl.Remove(cmd.Context(), mitigate.Action(args[0]), args[1]); err != nil {
				return err
			}
			fmt.Printf("Removed %s for %s\n", args[0], args[1])
			return nil
		},
	}
}
