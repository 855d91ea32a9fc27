package holder

import (
	"time"

	"holdpty/internal/registry"
)

// shutdown runs the sequence from spec.md §4.4 once the child has exited
// and drained: queue EXIT to every connected client, linger for late
// connectors, force-close everything, clean up the registry, then signal
// ShutdownComplete. Connections are not half-closed after EXIT; they stay
// open until the linger ends and are then closed. It is safe to call at most meaningfully once;
// subsequent calls are no-ops via shutdownOnce.
func (h *Holder) shutdown(exitCode int) {
	h.shutdownOnce.Do(func() {
		h.broadcastExit(exitCode)

		linger := time.Duration(h.lingerMS) * time.Millisecond
		h.log.WithField("lingerMs", h.lingerMS).Debug("lingering for late connectors")
		time.Sleep(linger)

		h.closeAllClients()

		if err := h.ln.Close(); err != nil {
			h.log.WithError(err).Debug("listener close returned an error")
		}
		if err := registry.RemoveMetadata(h.dir, h.name); err != nil {
			h.log.WithError(err).Warn("failed to remove metadata file")
		}
		if err := registry.RemoveEndpoint(h.dir, h.name); err != nil {
			h.log.WithError(err).Debug("failed to remove endpoint file")
		}

		h.log.Info("session shutdown complete")
		close(h.shutdownDone)
	})
}

func (h *Holder) broadcastExit(exitCode int) {
	frame := encodeExit(exitCode)

	h.mu.Lock()
	targets := make([]*clientConn, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.enqueue(frame)
	}
}

func (h *Holder) closeAllClients() {
	h.mu.Lock()
	targets := make([]*clientConn, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.clients = make(map[*clientConn]struct{})
	h.writer = nil
	h.mu.Unlock()

	for _, c := range targets {
		c.forceClose()
	}
}
