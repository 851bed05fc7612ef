package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/TAMON-TECHNOLOGY/mothbus/common"
	"github.com/TAMON-TECHNOLOGY/mothbus/logging"
	"github.com/TAMON-TECHNOLOGY/mothbus/protocol"
	"github.com/TAMON-TECHNOLOGY/mothbus/transport"
)

// RTUServer serves a data store as a slave on an RTU bus. A single goroutine
// owns the stream; bus operations are strictly sequential. Frames addressed
// to other slaves are ignored, broadcasts are executed without a reply, and
// corrupted frames (bad CRC, framing noise) are dropped silently: answering
// them would collide with the addressed slave's reply.
type RTUServer struct {
	logger     common.LoggerInterface
	stream     *transport.RTUStream
	unitID     common.UnitID
	dispatcher *Dispatcher

	mutex    sync.Mutex
	running  bool
	stopChan chan struct{}
}

// RTUServerOption is a function type for configuring an RTUServer
type RTUServerOption func(*RTUServer)

// WithRTUServerLogger sets the logger for the RTU server
func WithRTUServerLogger(logger common.LoggerInterface) RTUServerOption {
	return func(s *RTUServer) {
		s.logger = logger
	}
}

// NewRTUServer creates a server answering as unitID on the given RTU stream.
func NewRTUServer(stream *transport.RTUStream, unitID common.UnitID, store DataStore, options ...RTUServerOption) *RTUServer {
	server := &RTUServer{
		logger: logging.NewNoopLogger(),
		stream: stream,
		unitID: unitID,
	}
	for _, option := range options {
		option(server)
	}
	server.dispatcher = NewDispatcher(store, WithDispatcherLogger(server.logger))
	return server
}

// SetHandler overrides the handler for one function code.
func (s *RTUServer) SetHandler(fc common.FunctionCode, handler HandlerFunc) {
	s.dispatcher.SetHandler(fc, handler)
}

// Start begins serving the bus.
func (s *RTUServer) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.running {
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.stopChan = make(chan struct{})

	s.logger.Info(ctx, "Modbus RTU server started as unit %d", s.unitID)

	go s.serveLoop(ctx)
	return nil
}

// Stop stops serving.
func (s *RTUServer) Stop(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.running {
		return nil
	}
	close(s.stopChan)
	s.running = false
	s.logger.Info(ctx, "Modbus RTU server stopped")
	return nil
}

// IsRunning returns true if the server is running.
func (s *RTUServer) IsRunning() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.running
}

func (s *RTUServer) serveLoop(ctx context.Context) {
	results := make(chan readResult, 1)

	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		s.stream.AsyncReadRequest(func(txID common.TransactionID, unit common.UnitID, req protocol.Request, err error) {
			results <- readResult{txID: txID, unit: unit, req: req, err: err}
		})

		var r readResult
		select {
		case r = <-results:
		case <-s.stopChan:
			return
		}

		if errors.Is(r.err, common.ErrTimeout) {
			// Quiet bus; keep listening.
			continue
		}
		if errors.Is(r.err, common.ErrInvalidCRC) || errors.Is(r.err, common.ErrInvalidResponse) ||
			errors.Is(r.err, common.ErrRequestTooBig) {
			s.logger.Debug(ctx, "Dropping corrupted frame: %v", r.err)
			continue
		}

		if r.err != nil {
			var modbusErr *common.ModbusError
			if errors.As(r.err, &modbusErr) && r.req != nil {
				if r.unit == s.unitID {
					transport.WriteExceptionResponse(ctx, s.stream, r.txID, r.unit,
						modbusErr.FunctionCode, modbusErr.ExceptionCode)
				}
				continue
			}
			s.logger.Error(ctx, "Bus read failed: %v", r.err)
			return
		}

		// Only frames addressed to this slave or to everyone are ours.
		if r.unit != s.unitID && r.unit != common.BroadcastUnitID {
			continue
		}

		s.logger.Debug(ctx, "Received request: unit=%d, function=%s", r.unit, r.req.FunctionCode())

		resp, err := s.dispatcher.Dispatch(ctx, r.unit, r.req)

		if r.unit == common.BroadcastUnitID {
			continue
		}

		if err != nil {
			var modbusErr *common.ModbusError
			if errors.As(err, &modbusErr) {
				if werr := transport.WriteExceptionResponse(ctx, s.stream, r.txID, r.unit,
					modbusErr.FunctionCode, modbusErr.ExceptionCode); werr != nil {
					s.logger.Error(ctx, "Error sending exception response: %v", werr)
					return
				}
				continue
			}
			s.logger.Error(ctx, "Error processing request: %v", err)
			continue
		}

		if err := s.stream.WriteResponse(ctx, r.txID, r.unit, resp); err != nil {
			s.logger.Error(ctx, "Error sending response: %v", err)
			return
		}
	}
}
