package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/TAMON-TECHNOLOGY/mothbus/common"
	"github.com/TAMON-TECHNOLOGY/mothbus/logging"
	"github.com/TAMON-TECHNOLOGY/mothbus/protocol"
	"github.com/TAMON-TECHNOLOGY/mothbus/transport"
)

// TCPServer implements a Modbus TCP server: an accept loop spawning one
// goroutine per connection, each running its own ADU stream and byte
// buffer. Responses on a connection are sent in the order the requests were
// received; the server never pipelines or reorders.
// Ref: Modbus_Messaging_Implementation_Guide_V1_0b.pdf, Section 3 (Modbus TCP/IP Protocol)
type TCPServer struct {
	address    string
	port       int
	listener   net.Listener
	dispatcher *Dispatcher

	running      bool
	clients      map[string]net.Conn
	clientsMutex sync.Mutex
	mutex        sync.Mutex
	logger       common.LoggerInterface
	stopChan     chan struct{}
}

// TCPServerOption is a function type for configuring a TCPServer
type TCPServerOption func(*TCPServer)

// WithServerPort sets the TCP port for the server
func WithServerPort(port int) TCPServerOption {
	return func(s *TCPServer) {
		s.port = port
	}
}

// WithServerLogger sets the logger for the TCP server
func WithServerLogger(logger common.LoggerInterface) TCPServerOption {
	return func(s *TCPServer) {
		s.logger = logger
	}
}

// NewTCPServer creates a Modbus TCP server serving the given data store.
func NewTCPServer(address string, store DataStore, options ...TCPServerOption) *TCPServer {
	server := &TCPServer{
		address: address,
		port:    common.DefaultTCPPort,
		logger:  logging.NewNoopLogger(),
		clients: make(map[string]net.Conn),
	}
	for _, option := range options {
		option(server)
	}
	server.dispatcher = NewDispatcher(store, WithDispatcherLogger(server.logger))
	return server
}

// SetHandler overrides the handler for one function code.
func (s *TCPServer) SetHandler(fc common.FunctionCode, handler HandlerFunc) {
	s.dispatcher.SetHandler(fc, handler)
}

// Start starts the accept loop.
func (s *TCPServer) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.running {
		return fmt.Errorf("server already running")
	}

	addr := fmt.Sprintf("%s:%d", s.address, s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.listener = listener
	s.running = true
	s.stopChan = make(chan struct{})

	s.logger.Info(ctx, "Modbus TCP server started on %s", addr)

	go s.acceptLoop(ctx)
	return nil
}

// Stop stops the server and closes all client connections.
func (s *TCPServer) Stop(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.running {
		return nil
	}

	close(s.stopChan)
	if s.listener != nil {
		s.listener.Close()
	}

	s.clientsMutex.Lock()
	for _, conn := range s.clients {
		conn.Close()
	}
	s.clients = make(map[string]net.Conn)
	s.clientsMutex.Unlock()

	s.running = false
	s.logger.Info(ctx, "Modbus TCP server stopped")
	return nil
}

// IsRunning returns true if the server is running.
func (s *TCPServer) IsRunning() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.running
}

// Port returns the bound TCP port, useful when the server was started on
// port 0.
func (s *TCPServer) Port() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.listener != nil {
		if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return s.port
}

// acceptLoop accepts incoming connections until stopped.
func (s *TCPServer) acceptLoop(ctx context.Context) {
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		// Allow the stop signal to be observed between accepts.
		if tcpListener, ok := s.listener.(*net.TCPListener); ok {
			tcpListener.SetDeadline(time.Now().Add(time.Second))
		}

		conn, err := s.listener.Accept()
		if err != nil {
			if opErr, ok := err.(*net.OpError); ok && opErr.Timeout() {
				continue
			}
			select {
			case <-s.stopChan:
				return
			default:
				s.logger.Error(ctx, "Error accepting connection: %v", err)
				continue
			}
		}

		s.logger.Info(ctx, "New client connected: %s", conn.RemoteAddr().String())

		s.clientsMutex.Lock()
		s.clients[conn.RemoteAddr().String()] = conn
		s.clientsMutex.Unlock()

		go s.handleConnection(ctx, conn)
	}
}

type readResult struct {
	txID common.TransactionID
	unit common.UnitID
	req  protocol.Request
	err  error
}

// handleConnection serves one connection: read a request, dispatch it,
// write the response, repeat. The per-connection stream and its buffer are
// exclusive to this goroutine.
func (s *TCPServer) handleConnection(ctx context.Context, conn net.Conn) {
	remoteAddr := conn.RemoteAddr().String()
	defer func() {
		s.clientsMutex.Lock()
		delete(s.clients, remoteAddr)
		s.clientsMutex.Unlock()

		conn.Close()
		s.logger.Info(ctx, "Client disconnected: %s", remoteAddr)
	}()

	stream := transport.NewTCPStream(conn, transport.WithTCPLogger(s.logger))
	results := make(chan readResult, 1)

	for {
		stream.AsyncReadRequest(func(txID common.TransactionID, unit common.UnitID, req protocol.Request, err error) {
			results <- readResult{txID: txID, unit: unit, req: req, err: err}
		})

		var r readResult
		select {
		case r = <-results:
		case <-s.stopChan:
			return
		}

		if r.err != nil {
			var modbusErr *common.ModbusError
			if errors.As(r.err, &modbusErr) && r.req != nil {
				// The frame was fully read but the PDU is not servable;
				// reply with the exception and keep the connection.
				s.logger.Debug(ctx, "Modbus exception for %s: %v", remoteAddr, r.err)
				if r.unit != common.BroadcastUnitID {
					transport.WriteExceptionResponse(ctx, stream, r.txID, r.unit,
						modbusErr.FunctionCode, modbusErr.ExceptionCode)
				}
				continue
			}
			// Framing or transport failure: the byte stream can no longer be
			// trusted, so the per-connection task exits.
			s.logger.Debug(ctx, "Connection %s read failed: %v", remoteAddr, r.err)
			return
		}

		s.logger.Debug(ctx, "Received request from %s: txID=%d, unit=%d, function=%s",
			remoteAddr, r.txID, r.unit, r.req.FunctionCode())

		resp, err := s.dispatcher.Dispatch(ctx, r.unit, r.req)

		// A broadcast is executed but never answered.
		if r.unit == common.BroadcastUnitID {
			continue
		}

		if err != nil {
			var modbusErr *common.ModbusError
			if errors.As(err, &modbusErr) {
				s.logger.Debug(ctx, "Modbus exception: %v", err)
				if werr := transport.WriteExceptionResponse(ctx, stream, r.txID, r.unit,
					modbusErr.FunctionCode, modbusErr.ExceptionCode); werr != nil {
					s.logger.Error(ctx, "Error sending exception response to %s: %v", remoteAddr, werr)
					return
				}
				continue
			}
			s.logger.Error(ctx, "Error processing request from %s: %v", remoteAddr, err)
			return
		}

		if err := stream.WriteResponse(ctx, r.txID, r.unit, resp); err != nil {
			s.logger.Error(ctx, "Error sending response to %s: %v", remoteAddr, err)
			return
		}
	}
}
