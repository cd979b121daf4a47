package socks

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/mway-proxy/socks5/internal/connid"
	"github.com/mway-proxy/socks5/internal/logging"
)

// ErrServerClosed is returned by ListenAndServe/Serve when the server
// was shut down via Close.
var ErrServerClosed = errors.New("socks: server closed")

// Server owns a listener and dispatches accepted connections to the
// SOCKS4/4a and SOCKS5 state machines, generalizing
// Abdullah2993-socks5-server's Server to both protocol versions (the
// teacher only ever drove SOCKS5).
type Server struct {
	// Addr is the address to listen on. Empty means ":1080".
	Addr string

	// Handler supplies policy decisions for every negotiated connection.
	// Nil means &DefaultHandler{}.
	Handler Handler

	// KeepAlive sets the TCP keep-alive period for accepted connections;
	// zero leaves their keep-alive settings as the listener created them.
	KeepAlive time.Duration

	// Listen overrides how the accept listener is created, letting an
	// embedder substitute e.g. a UPnP port-forwarding listener.
	Listen func(network, address string) (net.Listener, error)

	// Logger receives per-connection lifecycle events. Nil means the
	// package default logger.
	Logger *logging.Logger

	mu       sync.Mutex
	doneChan chan struct{}
	listener net.Listener
	cancel   context.CancelFunc
}

// ListenAndServe starts a Server with the given address and handler,
// blocking until it fails or is closed.
func ListenAndServe(addr string, h Handler) error {
	s := &Server{Addr: addr, Handler: h}
	return s.ListenAndServe()
}

// ListenAndServe opens s.Addr and serves it.
func (s *Server) ListenAndServe() error {
	listen := s.listen()
	l, err := listen("tcp", s.addr())
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve accepts connections from l until it errors or the Server is
// closed, dispatching each to the protocol state machine in its own
// goroutine. Serve closes l on return.
func (s *Server) Serve(l net.Listener) error {
	defer l.Close()
	s.checkDefaults()
	ctx := s.setNewListener(l)

	for {
		c, err := l.Accept()
		if err != nil {
			select {
			case <-s.getDoneChan():
				return ErrServerClosed
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				continue
			}
			return err
		}

		if tc, ok := c.(*net.TCPConn); ok && s.KeepAlive > 0 {
			tc.SetKeepAlive(true)
			tc.SetKeepAlivePeriod(s.KeepAlive)
		}

		go s.handleConnection(ctx, c)
	}
}

// Close stops accepting new connections and cancels the context handed
// to every in-flight negotiation, unblocking their pending reads.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeDoneChanLocked()
	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) addr() string {
	if s.Addr == "" {
		return ":1080"
	}
	return s.Addr
}

func (s *Server) listen() func(network, address string) (net.Listener, error) {
	if s.Listen != nil {
		return s.Listen
	}
	return net.Listen
}

func (s *Server) logger() *logging.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return logging.Default()
}

func (s *Server) checkDefaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Handler == nil {
		s.Handler = &DefaultHandler{}
	}
	if s.Listen == nil {
		s.Listen = net.Listen
	}
}

func (s *Server) getDoneChan() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getDoneChanLocked()
}

func (s *Server) getDoneChanLocked() chan struct{} {
	if s.doneChan == nil {
		s.doneChan = make(chan struct{})
	}
	return s.doneChan
}

func (s *Server) closeDoneChanLocked() {
	ch := s.getDoneChanLocked()
	select {
	case <-ch:
	default:
		close(ch)
	}
}

func (s *Server) setNewListener(l net.Listener) context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		s.listener.Close()
	}
	s.doneChan = nil
	s.listener = l
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	return ctx
}

func (s *Server) handleConnection(ctx context.Context, c net.Conn) {
	id := connid.New()
	log := s.logger()
	log.Debugf(id, "accepted %s", c.RemoteAddr())
	defer c.Close()

	if err := Serve(ctx, c, c.RemoteAddr(), c.LocalAddr(), s.Handler); err != nil {
		log.Infof(id, "closed: %v", err)
		return
	}
	log.Debugf(id, "closed cleanly")
}
