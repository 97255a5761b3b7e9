package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go-httpcore/server"

	"github.com/rs/zerolog/log"
)

// accessChannel is the hub channel access log entries are published on.
const accessChannel = "access"

const userKey = "user"

type RequestLog struct {
	Time       time.Time `json:"time"`
	ID         string    `json:"id"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Route      string    `json:"route"`
	Status     int       `json:"status"`
	Aborted    bool      `json:"aborted,omitempty"`
	DurationMs float64   `json:"duration_ms"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
}

// buildServer wires middlewares and routes onto a new server.
func buildServer(cfg *AppServerConfig, root string, metrics *Metrics, hub *server.Hub, secret []byte) (*server.Server, error) {
	srv, err := server.NewServer(server.Config{
		Addr:            cfg.Addr,
		Workers:         cfg.Workers,
		ViewRoot:        resolve(root, cfg.ViewRoot),
		LengthAwareBody: cfg.LengthAwareBody,
		MaxHeadBytes:    cfg.MaxHeadBytes,
		MaxBodyBytes:    cfg.MaxBodyBytes,
	})
	if err != nil {
		return nil, err
	}

	srv.Use(server.NewMiddleware(accessLog(metrics, hub)))
	srv.Use(server.NewMiddleware(requestID))
	srv.Use(server.NewMiddleware(requireAuth(cfg.ProtectedPrefix, secret)))

	srv.HandleAny(cfg.StaticPrefix, serveStatic(resolve(root, cfg.StaticRoot), strings.TrimSuffix(cfg.StaticPrefix, "**")))
	srv.Handle(server.MethodGet, "/ping", ping)
	srv.Handle(server.MethodGet, "/sleep", sleep)
	if cfg.ProtectedPrefix != "" {
		srv.Handle(server.MethodGet, strings.TrimSuffix(cfg.ProtectedPrefix, "/")+"/**", whoami)
	}
	srv.Handle(server.MethodGet, "/", index)

	return srv, nil
}

//
// -------------------------------------------------------------
// MIDDLEWARES
// -------------------------------------------------------------
//

// accessLog times the rest of the chain, records per-pattern metrics and
// publishes one entry per request to the hub. It is registered first so it
// sees the final status and whether an inner middleware aborted.
func accessLog(metrics *Metrics, hub *server.Hub) server.MiddlewareFunc {
	return func(chain *server.Chain, ctx *server.Context) {
		start := time.Now()
		route := ctx.Route.Pattern
		metrics.Begin()

		chain.Next(ctx)

		elapsed := time.Since(start)
		status := 0
		if ctx.Response != nil {
			status = ctx.Response.Status
		}
		metrics.Observe(route, Outcome{Status: status, Aborted: chain.IsAborted(), Latency: elapsed})

		req := ctx.Request
		ua, _ := req.Header("User-Agent")
		entry := RequestLog{
			Time:       start,
			ID:         ctx.ID,
			Method:     string(req.Method),
			Path:       req.Path,
			Route:      route,
			Status:     status,
			Aborted:    chain.IsAborted(),
			DurationMs: float64(elapsed.Microseconds()) / 1000,
			RemoteAddr: req.RemoteAddr,
			UserAgent:  ua,
		}

		log.Info().
			Str("id", entry.ID).
			Str("remote", entry.RemoteAddr).
			Str("method", entry.Method).
			Str("path", entry.Path).
			Int("status", entry.Status).
			Dur("duration", elapsed).
			Msg("request")

		hub.Publish(accessChannel, "request", entry)
	}
}

// requestID reuses the client's X-Request-Id when present and echoes the
// id on the response.
func requestID(chain *server.Chain, ctx *server.Context) {
	if id, ok := ctx.Request.Header("X-Request-Id"); ok && id != "" {
		ctx.ID = id
	}

	chain.Next(ctx)

	if ctx.Response != nil {
		ctx.Response.WithHeader("X-Request-Id", ctx.ID)
	}
}

// requireAuth aborts with 401 for paths under prefix unless the request
// carries a valid bearer token.
func requireAuth(prefix string, secret []byte) server.MiddlewareFunc {
	return func(chain *server.Chain, ctx *server.Context) {
		if prefix == "" || !strings.HasPrefix(ctx.Request.Path, prefix) {
			chain.Next(ctx)
			return
		}

		auth, _ := ctx.Request.Header("Authorization")
		userID, err := authenticate(auth, secret)
		if err != nil {
			ctx.SetResponse(server.JSON(`{"error": "unauthorized"}`).WithStatus(401))
			chain.Abort()
			return
		}

		ctx.Set(userKey, userID)
		chain.Next(ctx)
	}
}

//
// -------------------------------------------------------------
// HANDLERS
// -------------------------------------------------------------
//

// serveStatic maps paths under prefix onto files in dir. The cleaned
// relative path can never climb out of dir.
func serveStatic(dir, prefix string) server.HandlerFunc {
	return func(ctx *server.Context) {
		target := strings.TrimPrefix(ctx.Request.Path, prefix)
		target = strings.TrimPrefix(filepath.Clean("/"+target), "/")
		if target == "" {
			target = "index.html"
		}

		fullPath := filepath.Join(dir, target)
		if !strings.HasPrefix(fullPath, filepath.Clean(dir)+string(filepath.Separator)) {
			ctx.SetResponse(server.NewResponse(403))
			return
		}

		ctx.SetResponse(server.File(fullPath))
	}
}

func ping(ctx *server.Context) {
	ctx.SetResponse(server.JSON(`{"msg": "pong"}`))
}

// sleep holds its worker for ?time= milliseconds, 1000 by default.
func sleep(ctx *server.Context) {
	ms := uint64(1000)
	if v, ok := ctx.Request.Query("time"); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			ms = n
		}
	}

	time.Sleep(time.Duration(ms) * time.Millisecond)
	ctx.SetResponse(server.JSON(fmt.Sprintf(`{"msg": "sleep %dms"}`, ms)))
}

func whoami(ctx *server.Context) {
	user, _ := ctx.Get(userKey)
	body, err := json.Marshal(map[string]any{"user": user})
	if err != nil {
		ctx.SetResponse(server.NewResponse(500))
		return
	}
	ctx.SetResponse(server.JSON(string(body)))
}

func index(ctx *server.Context) {
	ctx.SetResponse(server.View("index.html"))
}
