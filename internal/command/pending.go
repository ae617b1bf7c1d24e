package command

import (
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/dmsync/internal/lock"
	"github.com/matheus3301/dmsync/internal/session"
	"github.com/spf13/cobra"
)

type pendingJSON struct {
	ClientMessageID string    `json:"client_message_id"`
	Recipient       string    `json:"recipient"`
	Content         string    `json:"content"`
	Timestamp       time.Time `json:"timestamp"`
}

// NewPendingCmd creates the pending command group.
func NewPendingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Inspect the offline send queue",
	}
	cmd.AddCommand(newPendingListCmd(), newPendingClearCmd())
	return cmd
}

func newPendingListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued sends in submission order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := profileName(cmd)
			if err != nil {
				return err
			}
			db, err := openStore(profile)
			if errors.Is(err, errNoData) {
				return printPending(cmd, nil)
			}
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			ops, err := db.ListPendingOps()
			if err != nil {
				return err
			}
			out := make([]pendingJSON, 0, len(ops))
			for _, op := range ops {
				out = append(out, pendingJSON{
					ClientMessageID: op.ClientMessageID,
					Recipient:       op.Recipient,
					Content:         op.Content,
					Timestamp:       op.Timestamp,
				})
			}
			return printPending(cmd, out)
		},
	}
}

func printPending(cmd *cobra.Command, ops []pendingJSON) error {
	if jsonMode(cmd) {
		if ops == nil {
			ops = []pendingJSON{}
		}
		return writeJSON(cmd, ops)
	}
	out := cmd.OutOrStdout()
	if len(ops) == 0 {
		fmt.Fprintln(out, "No pending sends.")
		return nil
	}
	for _, op := range ops {
		fmt.Fprintf(out, "%s  %s  -> %s: %s\n",
			op.Timestamp.Local().Format("2006-01-02 15:04:05"), op.ClientMessageID, op.Recipient, op.Content)
	}
	return nil
}

func newPendingClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Discard every queued send",
		Long:  "Discard every queued send. Refused while dmsyncd or dmsync owns the profile.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := profileName(cmd)
			if err != nil {
				return err
			}
			lk, err := lock.Acquire(session.Dir(profile), AppName)
			if err != nil {
				return fmt.Errorf("cannot clear pending sends: %w", err)
			}
			defer func() { _ = lk.Release() }()

			db, err := openStore(profile)
			if errors.Is(err, errNoData) {
				fmt.Fprintln(cmd.OutOrStdout(), "No pending sends.")
				return nil
			}
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			n, err := db.CountPendingOps()
			if err != nil {
				return err
			}
			if err := db.ClearPendingOps(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d pending send(s).\n", n)
			return nil
		},
	}
}
