// Package api exposes daemon state over gRPC.
package api

import (
	"context"
	"sync"

	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/status"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// SyncService is the health service name that follows connectivity.
const SyncService = "dmsync.Sync"

// Health serves the standard gRPC health protocol. The overall service is
// SERVING while the daemon runs; SyncService is SERVING only while the
// sync controller is online.
type Health struct {
	srv     *health.Server
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHealth creates a health service reflecting machine's state.
func NewHealth(b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Health {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Health{
		srv:     health.NewServer(),
		machine: machine,
		bus:     b,
		logger:  logger,
	}
	h.set(machine.Current())
	return h
}

// Register attaches the service to s.
func (h *Health) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Check answers a health query without a connection.
func (h *Health) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := h.srv.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// Start follows sync.state_changed until Stop.
func (h *Health) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	ch, unsub := h.bus.Subscribe(bus.KindStateChanged, 16)
	h.wg.Go(func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if change, ok := evt.Payload.(status.StatusChange); ok {
					h.set(change.To)
				}
			case <-ctx.Done():
				return
			}
		}
	})
	// A transition may have happened before the subscription.
	h.set(h.machine.Current())
}

// Stop marks every service NOT_SERVING and stops following state.
func (h *Health) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()
	h.srv.Shutdown()
}

func (h *Health) set(state status.State) {
	st := ServingStatus(state)
	h.srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.srv.SetServingStatus(SyncService, st)
	h.logger.Debug("health updated", zap.String("state", string(state)), zap.String("status", st.String()))
}

// ServingStatus maps a sync state to a health status.
func ServingStatus(state status.State) healthpb.HealthCheckResponse_ServingStatus {
	if state == status.Offline {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}
