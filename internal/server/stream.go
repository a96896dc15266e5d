// internal/server/stream.go
package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/valpere/ReviewScrapexter/internal/jobs"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// handleStream pushes the job's status document over a websocket: the
// current one first, then each published snapshot until a terminal state.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	current, events, cancel, err := s.jobs.Subscribe(r.Context(), id)
	switch {
	case err == nil:
	case errors.Is(err, jobs.ErrNotFound):
		writeError(w, http.StatusNotFound, err, id)
		return
	default:
		s.logger.Error("job.subscribe_failed", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to subscribe"), id)
		return
	}
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("stream.upgrade_failed", "job_id", id, "error", err)
		return
	}
	defer conn.Close()

	logger := s.logger.With("job_id", id)
	logger.Debug("stream.opened")

	// the reader only services control frames and notices a closed peer
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := send(conn, current); err != nil {
		return
	}
	last := current

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for !last.State.IsTerminal() {
		select {
		case snap, ok := <-events:
			if !ok {
				// unsubscribed without a terminal event; report the stored state
				if snap, err := s.jobs.Status(r.Context(), id); err == nil && !stale(last, snap) {
					send(conn, snap)
				}
				closeStream(conn)
				return
			}
			if stale(last, snap) {
				continue
			}
			if err := send(conn, snap); err != nil {
				logger.Debug("stream.write_failed", "error", err)
				return
			}
			last = snap
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			logger.Debug("stream.client_closed")
			return
		case <-r.Context().Done():
			return
		}
	}
	closeStream(conn)
}

func send(conn *websocket.Conn, snap *jobs.Snapshot) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(snap.Status())
}

func closeStream(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// stale reports whether next is not newer than prev. Subscribing before
// reading the store can replay snapshots older than the current one.
func stale(prev, next *jobs.Snapshot) bool {
	return !next.Supersedes(prev)
}
