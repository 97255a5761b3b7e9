package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"go-httpcore/server"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const configFile = "httpcore.json"

type AppServerConfig struct {
	Addr            string `json:"addr"`
	Workers         int    `json:"workers"`
	ViewRoot        string `json:"view_root"`
	StaticRoot      string `json:"static_root"`
	StaticPrefix    string `json:"static_prefix"`
	HotReload       bool   `json:"hot_reload"`
	LengthAwareBody bool   `json:"length_aware_body"`
	MaxHeadBytes    int    `json:"max_head_bytes"`
	MaxBodyBytes    int64  `json:"max_body_bytes"`
	AdminAddr       string `json:"admin_addr"`
	LogLevel        string `json:"log_level"`
	PrettyLogs      bool   `json:"pretty_logs"`
	ProtectedPrefix string `json:"protected_prefix"`
}

// defaultConfig returns sane defaults when httpcore.json
// is missing or invalid.
func defaultConfig() *AppServerConfig {
	return &AppServerConfig{
		Addr:            "127.0.0.1:8080",
		Workers:         2,
		ViewRoot:        "templates",
		StaticRoot:      "static",
		StaticPrefix:    "/static/**",
		HotReload:       false,
		LengthAwareBody: false,
		MaxHeadBytes:    server.DefaultMaxHeadBytes,
		MaxBodyBytes:    server.DefaultMaxBodyBytes,
		AdminAddr:       "127.0.0.1:9090",
		LogLevel:        "info",
		ProtectedPrefix: "/private/",
	}
}

// loadConfig tries to read httpcore.json from projectRoot;
// falls back to defaults on any error.
func loadConfig(projectRoot string) *AppServerConfig {
	logger := log.With().Str("component", "config").Logger()
	cfgPath := filepath.Join(projectRoot, configFile)

	cfg := defaultConfig()

	data, err := os.ReadFile(cfgPath)
	if err != nil {
		logger.Info().Str("path", cfgPath).Err(err).Msg("no config file found, using defaults")
		applyEnv(cfg)
		return cfg
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		logger.Warn().Str("path", cfgPath).Err(err).Msg("invalid config file, using defaults")
		cfg = defaultConfig()
		applyEnv(cfg)
		return cfg
	}

	def := defaultConfig()

	//
	// -------------------------
	// Core config validation
	// -------------------------
	//

	if cfg.Addr == "" {
		logger.Warn().Str("fallback", def.Addr).Msg("addr is empty")
		cfg.Addr = def.Addr
	}

	if cfg.Workers <= 0 {
		logger.Warn().Int("workers", cfg.Workers).Int("fallback", def.Workers).Msg("workers is invalid")
		cfg.Workers = def.Workers
	}

	if cfg.MaxHeadBytes <= 0 {
		logger.Warn().Int("max_head_bytes", cfg.MaxHeadBytes).Int("fallback", def.MaxHeadBytes).Msg("max_head_bytes is invalid")
		cfg.MaxHeadBytes = def.MaxHeadBytes
	}

	if cfg.MaxBodyBytes <= 0 {
		logger.Warn().Int64("max_body_bytes", cfg.MaxBodyBytes).Int64("fallback", def.MaxBodyBytes).Msg("max_body_bytes is invalid")
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}

	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil || cfg.LogLevel == "" {
		logger.Warn().Str("log_level", cfg.LogLevel).Str("fallback", def.LogLevel).Msg("log_level is invalid")
		cfg.LogLevel = def.LogLevel
	}

	if cfg.AdminAddr == "" {
		logger.Info().Msg("admin_addr is empty, admin endpoints disabled")
	}

	//
	// -------------------------
	// Filesystem roots
	// -------------------------
	//

	if cfg.ViewRoot == "" {
		cfg.ViewRoot = def.ViewRoot
		logger.Warn().Str("fallback", cfg.ViewRoot).Msg("view_root is empty")
	}

	if cfg.StaticRoot == "" {
		cfg.StaticRoot = def.StaticRoot
		logger.Warn().Str("fallback", cfg.StaticRoot).Msg("static_root is empty")
	}

	if cfg.StaticPrefix == "" {
		cfg.StaticPrefix = def.StaticPrefix
	}
	if !strings.HasPrefix(cfg.StaticPrefix, "/") {
		logger.Warn().Str("static_prefix", cfg.StaticPrefix).Msg("static_prefix does not start with '/', fixing")
		cfg.StaticPrefix = "/" + cfg.StaticPrefix
	}
	if !strings.HasSuffix(cfg.StaticPrefix, "/**") {
		logger.Warn().Str("static_prefix", cfg.StaticPrefix).Msg("static_prefix is not a wildcard pattern, fixing")
		cfg.StaticPrefix = strings.TrimSuffix(strings.TrimSuffix(cfg.StaticPrefix, "**"), "/") + "/**"
	}

	if cfg.ProtectedPrefix != "" && !strings.HasPrefix(cfg.ProtectedPrefix, "/") {
		logger.Warn().Str("protected_prefix", cfg.ProtectedPrefix).Msg("protected_prefix does not start with '/', fixing")
		cfg.ProtectedPrefix = "/" + cfg.ProtectedPrefix
	}

	applyEnv(cfg)
	return cfg
}

// applyEnv lets APP_SERVER_ADDR override the listen address.
func applyEnv(cfg *AppServerConfig) {
	if addr := os.Getenv("APP_SERVER_ADDR"); addr != "" {
		cfg.Addr = addr
	}
}

// resolve makes dir absolute against projectRoot.
func resolve(projectRoot, dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(projectRoot, dir)
}

//
// -------------------------------------------------------------
// PROJECT ROOT DISCOVERY (dir containing go.mod)
// -------------------------------------------------------------
//

func getProjectRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}

	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return wd
		}
		dir = parent
	}
}
