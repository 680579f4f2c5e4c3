package agentproto

import (
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// Listener is the transport-agnostic counterpart to Transport: anything
// that can hand out accepted connections. net.Listener already satisfies
// it via the adapter below.
type Listener interface {
	Accept() (Transport, error)
	Close() error
}

type netListenerAdapter struct {
	listener net.Listener
}

func (n *netListenerAdapter) Accept() (Transport, error) {
	conn, err := n.listener.Accept()
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (n *netListenerAdapter) Close() error {
	return n.listener.Close()
}

// ConnectionHandler is invoked once per accepted connection, after the
// responder handshake has completed and the demux layer is running.
type ConnectionHandler func(client *Client)

// Server accepts connections, runs the responder handshake on each, and
// dispatches to a ConnectionHandler (§4.5 step 2, §4.6, §9). It is the
// long-lived listener side of the protocol.
type Server struct {
	listener Listener
	mode     DemuxMode
	handler  ConnectionHandler

	log     *logrus.Entry
	metrics *Metrics

	mu             sync.RWMutex
	clients        map[*Client]struct{}
	running        bool
	done           chan struct{}
	requestHandler RequestHandler
}

// NewServer wraps a net.Listener or a custom Listener. mode selects the
// demux policy every accepted connection will use; it is fixed for the
// life of the server (§9: the mode is a connection-wide, not per-message,
// choice).
func NewServer(listener interface{}, mode DemuxMode, log *logrus.Entry, metrics *Metrics) *Server {
	var l Listener
	switch v := listener.(type) {
	case Listener:
		l = v
	case net.Listener:
		l = &netListenerAdapter{listener: v}
	default:
		panic("agentproto: listener must implement Listener or be a net.Listener")
	}
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}

	return &Server{
		listener: l,
		mode:     mode,
		log:      log.WithField("component", "server"),
		metrics:  metrics,
		clients:  make(map[*Client]struct{}),
		done:     make(chan struct{}),
	}
}

// SetConnectionHandler sets the callback invoked for each accepted,
// handshaken connection.
func (s *Server) SetConnectionHandler(handler ConnectionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// SetRequestHandler installs the responder-side request handler used in
// request-manager mode (§4.7, §9): each accepted connection serves inbound
// requests through it via ServeRequests instead of running the
// initiator-side response router. Multiplex-mode connections ignore this.
func (s *Server) SetRequestHandler(handler RequestHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestHandler = handler
}

// Start accepts connections until Stop is called (blocking).
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	for {
		transport, err := s.listener.Accept()
		if err != nil {
			s.mu.RLock()
			running := s.running
			s.mu.RUnlock()
			if !running {
				return nil
			}
			s.log.WithError(err).Warn("accept failed, continuing")
			continue
		}

		go s.handleAccepted(transport)
	}
}

func (s *Server) handleAccepted(transport Transport) {
	secret, err := ResponderHandshake(transport, s.log)
	if err != nil {
		s.metrics.incHandshakesFailed()
		s.log.WithError(err).Warn("responder handshake failed")
		transport.Close()
		return
	}
	s.metrics.incHandshakesOK()
	s.metrics.incConnectionsAccepted()

	conn := NewConnection(transport, secret, s.log, s.metrics)
	client := &Client{conn: conn, mode: s.mode, log: conn.log, metrics: s.metrics, done: make(chan struct{})}

	switch s.mode {
	case DemuxRequestManager:
		client.reqMgr = NewRequestManager(s.log, s.metrics)
	case DemuxMultiplex:
		client.mux = NewMultiplexer(conn, s.log, s.metrics, nil)
	}

	s.addClient(client)
	defer func() {
		s.removeClient(client)
		client.Close()
	}()

	s.mu.RLock()
	handler := s.handler
	requestHandler := s.requestHandler
	s.mu.RUnlock()

	go func() {
		defer close(client.done)
		switch s.mode {
		case DemuxRequestManager:
			if requestHandler != nil {
				ServeRequests(conn, requestHandler, s.log)
			} else {
				client.reqMgr.RunResponseRouter(conn)
			}
		case DemuxMultiplex:
			client.mux.Run()
		}
	}()

	if handler != nil {
		handler(client)
	}
	<-client.done
}

// StartAsync runs Start in a new goroutine.
func (s *Server) StartAsync() {
	go s.Start()
}

// Stop stops accepting new connections and closes every tracked client.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	err := s.listener.Close()

	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		c.Close()
	}

	close(s.done)
	return err
}

func (s *Server) addClient(client *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client] = struct{}{}
}

func (s *Server) removeClient(client *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, client)
}

// ClientCount returns the number of currently connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Done returns a channel closed once Stop has run.
func (s *Server) Done() <-chan struct{} { return s.done }
