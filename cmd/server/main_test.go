package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go-httpcore/server"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	os.Exit(m.Run())
}

func writeConfig(t *testing.T, root, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(root, configFile), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestLoadConfigDefaultsWhenMissing(t *testing.T) {
	t.Setenv("APP_SERVER_ADDR", "")

	cfg := loadConfig(t.TempDir())
	def := defaultConfig()
	if *cfg != *def {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadConfigInvalidJSONFallsBack(t *testing.T) {
	t.Setenv("APP_SERVER_ADDR", "")

	root := t.TempDir()
	writeConfig(t, root, `{"workers": `)

	cfg := loadConfig(root)
	if cfg.Workers != defaultConfig().Workers {
		t.Fatalf("expected default workers, got %d", cfg.Workers)
	}
}

func TestLoadConfigValidatesFields(t *testing.T) {
	t.Setenv("APP_SERVER_ADDR", "")

	root := t.TempDir()
	writeConfig(t, root, `{
		"addr":             "",
		"workers":          -3,
		"log_level":        "loud",
		"static_prefix":    "assets",
		"protected_prefix": "admin/",
		"view_root":        "views",
		"max_body_bytes":   -1
	}`)

	cfg := loadConfig(root)
	def := defaultConfig()

	if cfg.Addr != def.Addr {
		t.Fatalf("expected addr fallback %q, got %q", def.Addr, cfg.Addr)
	}
	if cfg.Workers != def.Workers {
		t.Fatalf("expected workers fallback %d, got %d", def.Workers, cfg.Workers)
	}
	if cfg.LogLevel != def.LogLevel {
		t.Fatalf("expected log level fallback, got %q", cfg.LogLevel)
	}
	if cfg.StaticPrefix != "/assets/**" {
		t.Fatalf("expected normalized static prefix, got %q", cfg.StaticPrefix)
	}
	if cfg.ProtectedPrefix != "/admin/" {
		t.Fatalf("expected normalized protected prefix, got %q", cfg.ProtectedPrefix)
	}
	if cfg.ViewRoot != "views" {
		t.Fatalf("expected view_root from file, got %q", cfg.ViewRoot)
	}
	if cfg.MaxBodyBytes != def.MaxBodyBytes || cfg.MaxHeadBytes != def.MaxHeadBytes {
		t.Fatalf("expected size caps to fall back, got head=%d body=%d", cfg.MaxHeadBytes, cfg.MaxBodyBytes)
	}
	if cfg.StaticRoot != def.StaticRoot {
		t.Fatalf("expected static_root default to survive, got %q", cfg.StaticRoot)
	}
}

func TestLoadConfigEnvOverridesAddr(t *testing.T) {
	t.Setenv("APP_SERVER_ADDR", "0.0.0.0:9999")

	root := t.TempDir()
	writeConfig(t, root, `{"addr": "127.0.0.1:1234"}`)

	if cfg := loadConfig(root); cfg.Addr != "0.0.0.0:9999" {
		t.Fatalf("expected env addr, got %q", cfg.Addr)
	}
}

func TestResolve(t *testing.T) {
	if got := resolve("/srv/app", "static"); got != filepath.Join("/srv/app", "static") {
		t.Fatalf("unexpected relative resolve: %q", got)
	}
	if got := resolve("/srv/app", "/var/www"); got != "/var/www" {
		t.Fatalf("absolute dir should be kept, got %q", got)
	}
}

func TestGetProjectRootFindsGoMod(t *testing.T) {
	tmp := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmp, "go.mod"), []byte("module example.com/test"), 0o644); err != nil {
		t.Fatalf("write go.mod: %v", err)
	}

	sub := filepath.Join(tmp, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	oldWD, _ := os.Getwd()
	defer os.Chdir(oldWD)
	if err := os.Chdir(sub); err != nil {
		t.Fatalf("chdir: %v", err)
	}

	root := getProjectRoot()

	// macOS /var is a symlink to /private/var, which breaks the equality check.
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		t.Fatalf("EvalSymlinks: %v", err)
	}
	resolvedTmp, err := filepath.EvalSymlinks(tmp)
	if err != nil {
		t.Fatalf("EvalSymlinks(tmp): %v", err)
	}
	if resolvedRoot != resolvedTmp {
		t.Fatalf("expected root %q, got %q", resolvedTmp, resolvedRoot)
	}
}

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()

	m.Begin()
	m.Observe("/ping", Outcome{Status: 200, Latency: 10 * time.Millisecond})
	m.Begin()
	m.Observe("/ping", Outcome{Status: 500, Latency: 30 * time.Millisecond})
	m.Begin()
	m.Observe("/private/**", Outcome{Status: 401, Aborted: true, Latency: time.Millisecond})
	m.Begin()
	m.Observe("/silent", Outcome{Latency: time.Millisecond})
	m.Begin()

	snap := m.Snapshot()
	if snap.Requests != 4 || snap.ServerErrors != 2 || snap.InFlight != 1 {
		t.Fatalf("unexpected totals: %+v", snap)
	}

	ping := snap.Routes["/ping"]
	if ping.Count != 2 || ping.TotalLatency != 40*time.Millisecond || ping.MaxLatency != 30*time.Millisecond {
		t.Fatalf("unexpected /ping stats: %+v", ping)
	}
	if ping.ByClass["2xx"] != 1 || ping.ByClass["5xx"] != 1 {
		t.Fatalf("unexpected /ping classes: %v", ping.ByClass)
	}

	private := snap.Routes["/private/**"]
	if private.Aborted != 1 || private.ByClass["4xx"] != 1 {
		t.Fatalf("unexpected /private/** stats: %+v", private)
	}
	if snap.Routes["/silent"].ByClass["none"] != 1 {
		t.Fatalf("expected a missing response to count as none: %+v", snap.Routes["/silent"])
	}

	// the snapshot must not alias live counters
	m.Observe("/ping", Outcome{Status: 200})
	if snap.Routes["/ping"].Count != 2 || snap.Routes["/ping"].ByClass["2xx"] != 1 {
		t.Fatalf("snapshot changed after Observe")
	}
}

func TestStatusClass(t *testing.T) {
	for status, want := range map[int]string{0: "none", 200: "2xx", 304: "3xx", 404: "4xx", 503: "5xx"} {
		if got := statusClass(status); got != want {
			t.Fatalf("statusClass(%d) = %q, want %q", status, got, want)
		}
	}
}

func signToken(t *testing.T, secret []byte, subject string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	s, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestAuthenticate(t *testing.T) {
	secret := []byte("test-secret")
	valid := signToken(t, secret, "user-42")

	user, err := authenticate("Bearer "+valid, secret)
	if err != nil || user != "user-42" {
		t.Fatalf("expected user-42, got %q err=%v", user, err)
	}

	cases := map[string]struct {
		header string
		secret []byte
	}{
		"no bearer prefix": {valid, secret},
		"wrong secret":     {"Bearer " + valid, []byte("other")},
		"no secret":        {"Bearer " + valid, nil},
		"garbage":          {"Bearer not-a-jwt", secret},
		"no subject":       {"Bearer " + signToken(t, secret, ""), secret},
	}
	for name, tc := range cases {
		if _, err := authenticate(tc.header, tc.secret); err != errUnauthenticated {
			t.Fatalf("%s: expected errUnauthenticated, got %v", name, err)
		}
	}
}

func TestServeStaticConfinesToDir(t *testing.T) {
	dir := t.TempDir()
	h := serveStatic(dir, "/static/")

	cases := map[string]string{
		"/static/app.css":               filepath.Join(dir, "app.css"),
		"/static/img/logo.png":          filepath.Join(dir, "img", "logo.png"),
		"/static/":                      filepath.Join(dir, "index.html"),
		"/static/../../etc/passwd":      filepath.Join(dir, "etc", "passwd"),
		"/static/a/../../../secret.txt": filepath.Join(dir, "secret.txt"),
	}
	for path, want := range cases {
		ctx := server.NewContext("id", &server.Request{Method: server.MethodGet, Path: path})
		h(ctx)

		if ctx.Response == nil {
			t.Fatalf("%s: expected a response", path)
		}
		if ctx.Response.File != want {
			t.Fatalf("%s: expected file %q, got %q", path, want, ctx.Response.File)
		}
	}
}
