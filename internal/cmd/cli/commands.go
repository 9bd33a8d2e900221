package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rzbill/oplog/internal/errs"
	"github.com/rzbill/oplog/internal/operation"
	"github.com/rzbill/oplog/internal/runtime"
)

// newStatusCommand constructs `status`, which lists sessions by sync state.
func newStatusCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Aliases: []string{"list", "ls"},
		Short:   "List synchronised and unsynchronised sessions",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withRuntime(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
				tool, err := rt.Offline(cmd.OutOrStdout())
				if err != nil {
					return err
				}
				defer tool.Close()
				return tool.List(ctx)
			})
		},
	}
}

// newSyncCommand constructs `sync`, which replays pending operations.
func newSyncCommand(g *globals) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "sync [session...]",
		Short: "Replay pending operations to the backend",
		Long: `Replay operations that were persisted but never acknowledged by the backend.

With --all every unsynchronised session is replayed. Otherwise each argument
selects a session by ID or name.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return errs.Usage("cli.sync", "pass --all or at least one session, not both")
			}
			return g.withRuntime(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
				tool, err := rt.Offline(cmd.OutOrStdout())
				if err != nil {
					return err
				}
				defer tool.Close()
				if all {
					return tool.SyncAll(ctx)
				}
				return tool.SyncSelected(ctx, args)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Replay every unsynchronised session")
	return cmd
}

type inspectLine struct {
	Version uint64              `json:"version"`
	Op      operation.Operation `json:"op"`
}

// newInspectCommand constructs `inspect`, a read-only view of one session.
func newInspectCommand(g *globals) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "inspect <session>",
		Short: "Show a session's offset, tail and pending operations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withRuntime(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
				out := cmd.OutOrStdout()
				tool, err := rt.Offline(out)
				if err != nil {
					return err
				}
				defer tool.Close()

				var lines []inspectLine
				st, err := tool.Inspect(ctx, args[0], limit, func(v operation.Versioned) error {
					lines = append(lines, inspectLine{Version: v.Version, Op: v.Op})
					return nil
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "session: %s\n", st.ID)
				fmt.Fprintf(out, "name:    %s\n", st.DisplayName())
				fmt.Fprintf(out, "offset:  %d\n", st.Offset)
				fmt.Fprintf(out, "tail:    %d\n", st.Tail)
				fmt.Fprintf(out, "pending: %d\n", st.Pending())
				enc := json.NewEncoder(out)
				for _, l := range lines {
					if err := enc.Encode(l); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum pending operations to print (0 = all)")
	return cmd
}
