package services

import (
	"context"
	"fmt"
)

// Start runs the change feed watchers and the listeners. It returns once
// they are launched; a listener failing later is reported on Fatal.
func (m *Manager) Start(ctx context.Context) error {
	if m.realtime == nil || m.server == nil {
		return fmt.Errorf("services not initialized")
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	if err := m.realtime.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to start realtime service: %w", err)
	}

	m.wg.Go(func() {
		if err := m.server.Start(ctx); err != nil {
			m.logger.Error("Server stopped", "error", err)
			select {
			case m.fatal <- err:
			default:
			}
		}
	})

	m.logger.Info("Services started",
		"http_port", m.cfg.Server.HTTPPort,
		"grpc_port", m.cfg.Server.GRPCPort,
	)
	return nil
}
