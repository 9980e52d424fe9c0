package remote

import (
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/semlog/semlog"
)

// pollInterval bounds every blocking wait in the server's loops, so the
// stop flag is observed within roughly this interval.
const pollInterval = 100 * time.Millisecond

const handshakeTimeout = 5 * time.Second

// Server is the receiving end of the push transport. It binds one TCP
// endpoint and accepts pushes from arbitrarily many senders; each decoded
// event invokes the configured callback synchronously, serialized across
// connections. Undecodable messages are logged and skipped. Start runs
// the loops on background goroutines; Stop is cooperative and bounded by
// the caller's timeout.
type Server struct {
	addr    string
	mode    Mode
	cb      func(semlog.Event)
	textCB  func(string)
	errHook func(error)
	log     zerolog.Logger

	mu      sync.Mutex
	started bool
	done    bool
	ln      net.Listener

	wg   sync.WaitGroup
	cbMu sync.Mutex
}

type serverOptions struct {
	mode    Mode
	cb      func(semlog.Event)
	textCB  func(string)
	errHook func(error)
	log     zerolog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*serverOptions)

// WithServerMode selects the wire encoding senders use (default ModeJSON).
func WithServerMode(m Mode) ServerOption {
	return func(o *serverOptions) {
		o.mode = m
	}
}

// WithCallback sets the handler invoked per decoded event in structured
// modes.
func WithCallback(cb func(semlog.Event)) ServerOption {
	return func(o *serverOptions) {
		o.cb = cb
	}
}

// WithTextCallback sets the handler invoked per record in text mode, with
// the record separator stripped.
func WithTextCallback(cb func(string)) ServerOption {
	return func(o *serverOptions) {
		o.textCB = cb
	}
}

// WithErrorHook sets a hook invoked on each decode failure, for
// instrumentation. Decode failures never stop the server.
func WithErrorHook(hook func(error)) ServerOption {
	return func(o *serverOptions) {
		o.errHook = hook
	}
}

// WithServerLogger sets the diagnostics logger (default no-op).
func WithServerLogger(log zerolog.Logger) ServerOption {
	return func(o *serverOptions) {
		o.log = log
	}
}

// NewServer creates a server for host:port. Port 0 binds an ephemeral
// port, exposed via Addr once started. The server does not listen until
// Start is called.
func NewServer(host string, port int, opts ...ServerOption) *Server {
	o := serverOptions{
		mode: ModeJSON,
		log:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Server{
		addr:    net.JoinHostPort(host, strconv.Itoa(port)),
		mode:    o.mode,
		cb:      o.cb,
		textCB:  o.textCB,
		errHook: o.errHook,
		log:     o.log,
	}
}

// Start binds the endpoint and launches the accept loop. Starting an
// already-running or stopped server is an error.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return errors.New("remote: server already stopped")
	}
	if s.started {
		return errors.New("remote: server already started")
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.started = true
	s.log.Info().Str("addr", ln.Addr().String()).Str("mode", string(s.mode)).Msg("server listening")
	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Addr returns the bound address, nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop sets the stop flag and waits up to timeout for the loops to exit,
// reporting whether they stopped in time. Calling Stop on a server that
// was never started, or stopping twice, is a successful no-op.
func (s *Server) Stop(timeout time.Duration) bool {
	s.mu.Lock()
	if !s.started || s.done {
		s.mu.Unlock()
		return true
	}
	s.done = true
	ln := s.ln
	s.mu.Unlock()

	_ = ln.Close()

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (s *Server) isDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		if tl, ok := ln.(*net.TCPListener); ok {
			_ = tl.SetDeadline(time.Now().Add(pollInterval))
		}
		conn, err := ln.Accept()
		if err != nil {
			if s.isDone() {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.log.Error().Err(err).Msg("accept failed")
			return
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() { _ = conn.Close() }()

	log := s.log.With().
		Str("conn", uuid.NewString()[:8]).
		Str("remote", conn.RemoteAddr().String()).
		Logger()
	log.Debug().Msg("sender connected")

	if s.mode != ModeLegacy {
		_ = conn.SetDeadline(time.Now().Add(handshakeTimeout))
		if _, err := ws.Upgrade(conn); err != nil {
			log.Debug().Err(err).Msg("websocket upgrade failed")
			return
		}
		_ = conn.SetDeadline(time.Time{})
	}

	rw := &pollReader{conn: conn, stop: s.isDone}
	for {
		var payload []byte
		var err error
		if s.mode == ModeLegacy {
			payload, err = readFrame(rw)
		} else {
			payload, _, err = wsutil.ReadClientData(rw)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				log.Debug().Msg("sender disconnected")
			} else {
				log.Debug().Err(err).Msg("connection closed")
			}
			return
		}
		s.dispatch(payload, log)
	}
}

// pollReader reads a connection in pollInterval slices so the stop flag
// is observed while the connection is idle. A deadline that expires
// before any byte arrives is retried; once bytes arrive they are
// returned to the caller, so a message spanning several expirations is
// reassembled without losing the bytes already consumed.
type pollReader struct {
	conn net.Conn
	stop func() bool
}

func (r *pollReader) Read(p []byte) (int, error) {
	for {
		if r.stop() {
			return 0, net.ErrClosed
		}
		_ = r.conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := r.conn.Read(p)
		if n > 0 {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				err = nil
			}
			return n, err
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return 0, err
		}
	}
}

// Write lets the websocket reader answer control frames on the same
// connection.
func (r *pollReader) Write(p []byte) (int, error) {
	return r.conn.Write(p)
}

// dispatch decodes one message and invokes the callback. The callback
// mutex serializes invocations across sender connections, matching the
// single-loop delivery the callback contract promises. A message that
// cannot be decoded is dropped; the loop keeps polling.
func (s *Server) dispatch(payload []byte, log zerolog.Logger) {
	if s.mode == ModeText {
		if s.textCB == nil {
			return
		}
		line := strings.TrimSuffix(string(payload), semlog.RecSep)
		s.cbMu.Lock()
		s.textCB(line)
		s.cbMu.Unlock()
		return
	}

	ev, err := decode(s.mode, payload)
	if err != nil {
		log.Warn().Err(err).Msg("dropping undecodable message")
		if s.errHook != nil {
			s.errHook(err)
		}
		return
	}
	if s.cb == nil {
		return
	}
	s.cbMu.Lock()
	s.cb(ev)
	s.cbMu.Unlock()
}
