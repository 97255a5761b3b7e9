package main

import (
	"strconv"
	"sync"
	"time"
)

// Outcome is what the access log learns about one finished chain.
type Outcome struct {
	Status  int // 0 when the chain produced no response
	Aborted bool
	Latency time.Duration
}

// RouteStats aggregates every dispatch to one route pattern.
type RouteStats struct {
	Count        uint64            `json:"count"`
	Aborted      uint64            `json:"aborted"`
	ByClass      map[string]uint64 `json:"by_class"`
	TotalLatency time.Duration     `json:"total_latency_ns"`
	MaxLatency   time.Duration     `json:"max_latency_ns"`
}

// Metrics is keyed by route pattern, not request path, so a wildcard
// route such as /static/** stays one entry.
type Metrics struct {
	mu       sync.Mutex
	started  time.Time
	inFlight uint64
	routes   map[string]*RouteStats
}

type MetricsSnapshot struct {
	Uptime       time.Duration         `json:"uptime_ns"`
	InFlight     uint64                `json:"in_flight"`
	Requests     uint64                `json:"requests"`
	ServerErrors uint64                `json:"server_errors"`
	Routes       map[string]RouteStats `json:"routes"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		started: time.Now(),
		routes:  make(map[string]*RouteStats),
	}
}

func (m *Metrics) Begin() {
	m.mu.Lock()
	m.inFlight++
	m.mu.Unlock()
}

// Observe records a finished chain for route.
func (m *Metrics) Observe(route string, o Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inFlight > 0 {
		m.inFlight--
	}

	rs := m.routes[route]
	if rs == nil {
		rs = &RouteStats{ByClass: make(map[string]uint64)}
		m.routes[route] = rs
	}
	rs.Count++
	if o.Aborted {
		rs.Aborted++
	}
	rs.ByClass[statusClass(o.Status)]++
	rs.TotalLatency += o.Latency
	if o.Latency > rs.MaxLatency {
		rs.MaxLatency = o.Latency
	}
}

// statusClass buckets a status as "2xx", "4xx" and so on. A chain that
// wrote nothing is "none".
func statusClass(status int) string {
	if status <= 0 {
		return "none"
	}
	return strconv.Itoa(status/100) + "xx"
}

// Snapshot copies the counters so they can be encoded while requests keep
// updating m.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := MetricsSnapshot{
		Uptime:   time.Since(m.started),
		InFlight: m.inFlight,
		Routes:   make(map[string]RouteStats, len(m.routes)),
	}

	for route, rs := range m.routes {
		cp := *rs
		cp.ByClass = make(map[string]uint64, len(rs.ByClass))
		for class, n := range rs.ByClass {
			cp.ByClass[class] = n
		}
		snap.Routes[route] = cp

		snap.Requests += rs.Count
		snap.ServerErrors += rs.ByClass["5xx"] + rs.ByClass["none"]
	}

	return snap
}
