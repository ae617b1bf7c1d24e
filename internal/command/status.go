package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/dmsync/internal/lock"
	"github.com/matheus3301/dmsync/internal/session"
	"github.com/matheus3301/dmsync/internal/tui/client"
	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const healthTimeout = 2 * time.Second

type statusReport struct {
	Profile     string            `json:"profile"`
	Running     bool              `json:"running"`
	Owner       string            `json:"owner,omitempty"`
	PID         int               `json:"pid,omitempty"`
	Since       *time.Time        `json:"since,omitempty"`
	Sync        string            `json:"sync"`
	Pending     int               `json:"pending"`
	Checkpoints map[string]string `json:"checkpoints,omitempty"`
}

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show who owns the profile, sync health and queued sends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := profileName(cmd)
			if err != nil {
				return err
			}
			report := statusReport{Profile: profile, Sync: "stopped"}

			holder, held, err := lock.Inspect(session.Dir(profile))
			if err != nil {
				return fmt.Errorf("inspect lock: %w", err)
			}
			if held {
				report.Running = true
				report.Owner = holder.Owner
				report.PID = holder.PID
				if !holder.Since.IsZero() {
					since := holder.Since
					report.Since = &since
				}
				report.Sync = syncStatus(cmd.Context(), profile)
			}

			db, err := openStore(profile)
			switch {
			case errors.Is(err, errNoData):
			case err != nil:
				return err
			default:
				defer func() { _ = db.Close() }()
				if report.Pending, err = db.CountPendingOps(); err != nil {
					return err
				}
				cps, err := db.ListCheckpoints()
				if err != nil {
					return err
				}
				if len(cps) > 0 {
					report.Checkpoints = make(map[string]string, len(cps))
					for _, cp := range cps {
						report.Checkpoints[cp.Key] = cp.Value
					}
				}
			}

			if jsonMode(cmd) {
				return writeJSON(cmd, report)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Profile: %s\n", report.Profile)
			if report.Running {
				fmt.Fprintf(out, "Owner:   %s (PID %d)\n", report.Owner, report.PID)
			} else {
				fmt.Fprintln(out, "Owner:   none")
			}
			fmt.Fprintf(out, "Sync:    %s\n", report.Sync)
			fmt.Fprintf(out, "Pending: %d\n", report.Pending)
			for k, v := range report.Checkpoints {
				fmt.Fprintf(out, "  %s = %s\n", k, v)
			}
			return nil
		},
	}
}

// syncStatus asks the lock holder's health service over the profile socket.
func syncStatus(parent context.Context, profile string) string {
	if parent == nil {
		parent = context.Background()
	}
	c, err := client.New(session.SocketPath(profile))
	if err != nil {
		return "unreachable"
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(parent, healthTimeout)
	defer cancel()
	st, err := c.SyncStatus(ctx)
	if err != nil {
		return "unreachable"
	}
	switch st {
	case healthpb.HealthCheckResponse_SERVING:
		return "online"
	case healthpb.HealthCheckResponse_NOT_SERVING:
		return "offline"
	}
	return "unknown"
}
