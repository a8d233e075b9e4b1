// Package gateway – events.go defines connection states and the observer
// contract for state transitions.
package gateway

import (
	"time"
)

// ConnectionState represents the current connection state.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateStopped      ConnectionState = "stopped"
)

// ConnectionEvent represents a connection state change event.
type ConnectionEvent struct {
	State     ConnectionState `json:"state"`
	Previous  ConnectionState `json:"previous,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Reason    string          `json:"reason,omitempty"`
	Attempt   int             `json:"attempt,omitempty"`
}

// ConnectionObserver receives connection state changes. Observers are
// invoked synchronously from the supervisor loop and must return quickly.
type ConnectionObserver interface {
	OnConnectionChange(evt ConnectionEvent)
}

// AddConnectionObserver registers a connection observer.
func (g *Gateway) AddConnectionObserver(obs ConnectionObserver) {
	g.connObserversMu.Lock()
	defer g.connObserversMu.Unlock()
	g.connObservers = append(g.connObservers, obs)
}

// notifyConnectionChange notifies all connection observers.
func (g *Gateway) notifyConnectionChange(evt ConnectionEvent) {
	g.connObserversMu.Lock()
	observers := make([]ConnectionObserver, len(g.connObservers))
	copy(observers, g.connObservers)
	g.connObserversMu.Unlock()

	for _, obs := range observers {
		func(o ConnectionObserver) {
			defer func() {
				if r := recover(); r != nil {
					g.logger.Warn("connection observer panic", "error", r)
				}
			}()
			o.OnConnectionChange(evt)
		}(obs)
	}
}

// transition updates the state and notifies observers.
func (g *Gateway) transition(state ConnectionState, reason string, attempt int) {
	previous := g.getState()
	g.setState(state)
	g.notifyConnectionChange(ConnectionEvent{
		State:     state,
		Previous:  previous,
		Timestamp: time.Now(),
		Reason:    reason,
		Attempt:   attempt,
	})
}

// getState returns the current connection state.
func (g *Gateway) getState() ConnectionState {
	if v := g.state.Load(); v != nil {
		return v.(ConnectionState)
	}
	return StateDisconnected
}

// setState updates the connection state.
func (g *Gateway) setState(state ConnectionState) {
	g.state.Store(state)
}

// State returns the current connection state (public API).
func (g *Gateway) State() ConnectionState {
	return g.getState()
}
