package server

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var ErrServerClosed = errors.New("server closed")

type Config struct {
	Addr            string
	Workers         int
	ViewRoot        string
	LengthAwareBody bool
	MaxHeadBytes    int   // zero means DefaultMaxHeadBytes
	MaxBodyBytes    int64 // zero means DefaultMaxBodyBytes
}

// Server accepts connections and hands each one to the worker pool as a
// single job. Routes and middlewares must be registered before Serve;
// Handle, HandleAny and Use panic once it has started.
type Server struct {
	cfg         Config
	router      Router
	middlewares []*Middleware
	writer      ResponseWriter

	pool    atomic.Pointer[WorkerPool]
	retired sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener
	watcher  *fsnotify.Watcher
	closing  atomic.Bool
	serving  atomic.Bool
}

type HealthSummary struct {
	Pool        PoolStats `json:"pool"`
	Routes      int       `json:"routes"`
	Middlewares int       `json:"middlewares"`
}

func NewServer(cfg Config) (*Server, error) {
	p, err := NewPool(cfg.Workers)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:    cfg,
		writer: ResponseWriter{ViewRoot: cfg.ViewRoot},
	}
	s.pool.Store(p)
	return s, nil
}

func (s *Server) Handle(method Method, pattern string, h HandlerFunc) {
	s.mustNotServe("Handle")
	s.router.Add(method, pattern, h)
}

// HandleAny registers h for every method.
func (s *Server) HandleAny(pattern string, h HandlerFunc) {
	s.mustNotServe("HandleAny")
	s.router.Add("", pattern, h)
}

func (s *Server) Use(m *Middleware) {
	s.mustNotServe("Use")
	s.middlewares = append(s.middlewares, m)
}

// mustNotServe guards the route and middleware tables, which workers read
// without locking.
func (s *Server) mustNotServe(op string) {
	if s.serving.Load() {
		panic("server: " + op + " called after Serve")
	}
}

// Dispatch routes req and runs its chain. A nil result means the chain
// produced no response and nothing should be written.
func (s *Server) Dispatch(req *Request) *Response {
	return s.dispatch(NewContext(uuid.New().String(), req))
}

func (s *Server) dispatch(ctx *Context) *Response {
	route := s.router.Match(ctx.Request)
	if route == nil {
		return NewResponse(404)
	}

	log.Debug().
		Str("component", "server").
		Str("id", ctx.ID).
		Str("method", string(route.Method)).
		Str("pattern", route.Pattern).
		Msg("match")

	ctx.Route = route
	chain := NewChain(route.Handler, matchMiddlewares(s.middlewares, ctx.Request))
	chain.Run(ctx)
	return ctx.Response
}

// ServeConn runs one full exchange on conn and closes it.
func (s *Server) ServeConn(conn net.Conn) {
	defer conn.Close()

	logger := log.With().Str("component", "server").Str("remote", remoteString(conn)).Logger()

	req, err := ParseRequest(conn, ParseOptions{
		LengthAwareBody: s.cfg.LengthAwareBody,
		MaxHeadBytes:    s.cfg.MaxHeadBytes,
		MaxBodyBytes:    s.cfg.MaxBodyBytes,
	})
	if err != nil {
		logger.Debug().Err(err).Msg("dropping unparseable request")
		return
	}

	resp := s.Dispatch(req)
	if resp == nil {
		logger.Debug().Str("path", req.Path).Msg("chain produced no response")
		return
	}

	if err := s.writer.Write(conn, resp); err != nil {
		logger.Warn().Err(err).Str("path", req.Path).Msg("write response")
	}
}

func remoteString(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown. Each connection becomes
// one pool job; a connection that cannot be submitted is closed.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.serving.Store(true)
	s.mu.Unlock()

	log.Info().
		Str("component", "server").
		Str("addr", ln.Addr().String()).
		Int("workers", s.pool.Load().Size()).
		Msg("listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closing.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Warn().Str("component", "server").Err(err).Msg("accept")
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if err := s.submit(func() { s.ServeConn(conn) }); err != nil {
			log.Warn().Str("component", "server").Err(err).Msg("dropping connection")
			conn.Close()
		}
	}
}

// submit retries once per pool swap so a Recycle racing the accept loop
// does not drop the connection.
func (s *Server) submit(job Job) error {
	for {
		p := s.pool.Load()
		err := p.Submit(job)
		if errors.Is(err, ErrPoolClosed) && s.pool.Load() != p {
			continue
		}
		return err
	}
}

// Recycle replaces the pool with a fresh one of size workers. The old
// pool finishes its queued jobs in the background.
func (s *Server) Recycle(size int) error {
	np, err := NewPool(size)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		np.Close()
		return ErrServerClosed
	}
	old := s.pool.Swap(np)
	s.retired.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.retired.Done()
		old.Close()
		log.Info().Str("component", "server").Int("workers", old.Size()).Msg("retired pool drained")
	}()

	log.Info().Str("component", "server").Int("workers", size).Msg("pool recycled")
	return nil
}

func (s *Server) Health() HealthSummary {
	return HealthSummary{
		Pool:        s.pool.Load().Stats(),
		Routes:      s.router.Len(),
		Middlewares: len(s.middlewares),
	}
}

// Shutdown stops accepting connections and blocks until every queued and
// in-flight job has finished.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	s.closing.Store(true)
	ln := s.listener
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()

	var err error
	if ln != nil {
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	if w != nil {
		w.Close()
	}

	s.pool.Load().Close()
	s.retired.Wait()
	return err
}
