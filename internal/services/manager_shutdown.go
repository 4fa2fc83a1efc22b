package services

import (
	"context"
	"errors"
)

// Shutdown ends every stream, stops the listeners and releases the feed
// and database. Streams are closed first so that HTTP shutdown does not
// wait on long-lived connections. Only the first call has an effect.
func (m *Manager) Shutdown(ctx context.Context) error {
	var err error
	m.stopOnce.Do(func() {
		if m.realtime != nil {
			m.logger.Info("Closing realtime streams")
			m.realtime.Close()
		}

		if m.server != nil {
			if serr := m.server.Stop(ctx); serr != nil {
				m.logger.Error("Error stopping server", "error", serr)
				err = serr
			}
		}
		if m.cancel != nil {
			m.cancel()
		}

		done := make(chan struct{})
		go func() {
			m.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			m.logger.Warn("Timeout waiting for listeners to stop")
		}

		err = errors.Join(err, m.releaseResources(ctx))
	})
	return err
}

func (m *Manager) releaseResources(ctx context.Context) error {
	if m.release != nil {
		m.release()
		m.release = nil
	}
	if m.db != nil {
		db := m.db
		m.db = nil
		if err := db.Close(ctx); err != nil {
			m.logger.Error("Error closing MongoDB", "error", err)
			return err
		}
	}
	return nil
}
