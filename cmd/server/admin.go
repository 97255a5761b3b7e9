package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go-httpcore/server"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// newAdminMux serves health, metrics, pool recycling and the live access
// log over websocket. It runs on its own listener next to the core server.
func newAdminMux(srv *server.Server, metrics *Metrics, hub *server.Hub, secret []byte) *http.ServeMux {
	mux := http.NewServeMux()

	wsUpgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	// Health summary: worker pool, routes, middlewares
	mux.HandleFunc("/__admin/health", func(w http.ResponseWriter, r *http.Request) {
		summary := srv.Health()
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(summary); err != nil {
			http.Error(w, "failed to encode health summary", http.StatusInternalServerError)
			return
		}
	})

	mux.HandleFunc("/__admin/metrics", func(w http.ResponseWriter, r *http.Request) {
		snap := metrics.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			http.Error(w, "failed to encode metrics", http.StatusInternalServerError)
		}
	})

	// Swap in a fresh pool. ?workers=N resizes it, otherwise the current
	// size is kept.
	mux.HandleFunc("/__admin/recycle", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		size := srv.Health().Pool.Workers
		if v := r.URL.Query().Get("workers"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, "invalid workers", http.StatusBadRequest)
				return
			}
			size = n
		}

		if err := srv.Recycle(size); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"workers": size,
		})
	})

	// POST /__admin/publish
	// Body: { "channel": "foo", "type": "update", "data": { ... } }
	mux.HandleFunc("/__admin/publish", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var body struct {
			Channel string `json:"channel"`
			Type    string `json:"type"`
			Data    any    `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if body.Channel == "" {
			http.Error(w, "missing channel", http.StatusBadRequest)
			return
		}

		hub.Publish(body.Channel, body.Type, body.Data)
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("/__admin/ws", func(w http.ResponseWriter, r *http.Request) {
		logger := log.With().Str("component", "ws").Str("remote", r.RemoteAddr).Logger()

		if len(secret) > 0 {
			auth := r.Header.Get("Authorization")
			if auth == "" && r.URL.Query().Get("token") != "" {
				auth = "Bearer " + r.URL.Query().Get("token")
			}
			if _, err := authenticate(auth, secret); err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		channel := r.URL.Query().Get("channel")
		if channel == "" {
			channel = accessChannel
		}

		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("upgrade error")
			return
		}

		defer conn.Close()

		client := hub.Subscribe(channel)
		defer hub.Unsubscribe(channel, client)

		// writer goroutine
		go func() {
			for msg := range client.Send {
				if err := conn.WriteJSON(msg); err != nil {
					logger.Debug().Err(err).Msg("write error")
					return
				}
			}
		}()

		// reader loop, client messages are rebroadcast on the same channel
		for {
			var incoming map[string]any
			if err := conn.ReadJSON(&incoming); err != nil {
				if websocket.IsCloseError(err,
					websocket.CloseGoingAway,
					websocket.CloseNormalClosure,
					websocket.CloseAbnormalClosure,
				) {
					return
				}
				logger.Debug().Err(err).Msg("read error")
				return
			}

			hub.Publish(channel, "client", incoming)
		}
	})

	return mux
}
