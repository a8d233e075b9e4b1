// Package gateway – health.go implements the heartbeat and health check
// duties that detect dead connections the platform never closes cleanly.
package gateway

import (
	"context"
	"sync"
	"time"
)

// heartbeatMessage is the application-level keepalive text. The platform
// does not answer websocket protocol pings, so plain text frames stand in.
const heartbeatMessage = "ping"

// heartbeatLoop writes a keepalive on a fixed interval and counts
// consecutive write failures. Reaching the limit tears the connection down.
func (g *Gateway) heartbeatLoop(ctx context.Context, transport Transport, failed chan<- string, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(g.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := transport.Send(ctx, heartbeatMessage); err != nil {
				missed := int(g.missedHeartbeats.Add(1))
				g.logger.Warn("heartbeat failed",
					"missed", missed,
					"max", g.cfg.MaxMissedHeartbeats,
					"error", err)
				if missed >= g.cfg.MaxMissedHeartbeats {
					g.fail(failed, "heartbeat failures")
					return
				}
				continue
			}
			g.missedHeartbeats.Store(0)
		}
	}
}

// healthLoop probes the connection and requires any inbound frame within
// the check window. This catches half-open sockets where writes still
// succeed but the server is gone.
func (g *Gateway) healthLoop(ctx context.Context, transport Transport, failed chan<- string, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(g.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			before := g.lastActivity()
			if err := transport.Send(ctx, heartbeatMessage); err != nil {
				g.logger.Warn("health probe failed", "error", err)
				g.fail(failed, "health probe failed")
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(g.cfg.HealthCheckWindow):
			}

			if !g.lastActivity().After(before) {
				g.logger.Warn("no traffic within health window",
					"window", g.cfg.HealthCheckWindow)
				g.fail(failed, "health check silence")
				return
			}
		}
	}
}
