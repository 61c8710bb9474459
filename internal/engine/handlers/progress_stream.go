package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// HandleEvents handles GET /v1/generations/{id}/events as a server-sent
// event stream. The stream closes after the terminal event. A client that
// connects after the request finished gets an immediately closed stream and
// must read GetStatus instead.
func (h *GenerationHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Ownership check; also gives the client an initial snapshot.
	snap, err := h.engine.GetStatus(r.Context(), id, userID(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch, cancel := h.tracker.Subscribe(id)
	defer cancel()

	data, _ := json.Marshal(snap)
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()

	for {
		select {
		case rec, open := <-ch:
			if !open {
				fmt.Fprintf(w, "data: [DONE]\n\n")
				flusher.Flush()
				return
			}
			data, _ := json.Marshal(rec)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Identity is asserted by the platform boundary, not the Origin header.
	CheckOrigin: func(*http.Request) bool { return true },
}

// HandleWS handles GET /v1/generations/{id}/ws, streaming progress events
// over a WebSocket until the terminal event
func (h *GenerationHandler) HandleWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snap, err := h.engine.GetStatus(r.Context(), id, userID(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ch, cancel := h.tracker.Subscribe(id)
	defer cancel()

	if err := conn.WriteJSON(snap); err != nil {
		return
	}

	for {
		select {
		case rec, open := <-ch:
			if !open {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
				return
			}
			if err := conn.WriteJSON(rec); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
