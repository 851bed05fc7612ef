package transport

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/TAMON-TECHNOLOGY/mothbus/common"
	"github.com/TAMON-TECHNOLOGY/mothbus/logging"
	"github.com/TAMON-TECHNOLOGY/mothbus/protocol"
)

// TCPStream frames PDUs into Modbus TCP ADUs: the 7-byte MBAP header
// followed by the PDU.
// Ref: Modbus_Messaging_Implementation_Guide_V1_0b.pdf, Section 3.1 (MBAP Header)
//
// The stream owns one byte buffer of MaxTCPADULength, exclusive to the
// goroutine driving it; a connection never frames two ADUs concurrently.
// The transaction id counter is per-stream, starting at 0 and wrapping
// modulo 2^16.
type TCPStream struct {
	logger common.LoggerInterface
	rw     io.ReadWriter
	buf    *protocol.Buffer

	mu            sync.Mutex
	transactionID common.TransactionID
}

// TCPStreamOption is a function that configures a TCPStream
type TCPStreamOption func(*TCPStream)

// WithTCPLogger sets the logger for the stream
func WithTCPLogger(logger common.LoggerInterface) TCPStreamOption {
	return func(s *TCPStream) {
		s.logger = logger
	}
}

// NewTCPStream creates a TCP ADU stream over an established byte stream,
// typically a net.Conn.
func NewTCPStream(rw io.ReadWriter, options ...TCPStreamOption) *TCPStream {
	s := &TCPStream{
		logger: logging.NewNoopLogger(),
		rw:     rw,
		buf:    protocol.NewBuffer(common.MaxTCPADULength),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// applyDeadline pushes a context deadline down to the connection, when the
// underlying stream supports deadlines.
func (s *TCPStream) applyDeadline(ctx context.Context) {
	conn, ok := s.rw.(net.Conn)
	if !ok {
		return
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Time{})
	}
}

// encodeADU frames a PDU under an MBAP header into the stream buffer. The
// length field spans the unit id and the PDU; it is written as a placeholder
// first and backpatched once the PDU size is known.
func (s *TCPStream) encodeADU(txID common.TransactionID, unit common.UnitID, encode func(*protocol.Buffer) error) error {
	s.buf.Reset()
	if err := s.buf.PutUint16(uint16(txID)); err != nil {
		return err
	}
	if err := s.buf.PutUint16(uint16(common.TCPProtocolIdentifier)); err != nil {
		return err
	}
	if err := s.buf.PutUint16(0); err != nil { // length placeholder
		return err
	}
	if err := s.buf.Put(byte(unit)); err != nil {
		return err
	}
	if err := encode(s.buf); err != nil {
		return err
	}

	length := s.buf.OutputLen() - 6
	if length < common.MinTCPLength || length > common.MaxTCPLength {
		return common.ErrRequestTooBig
	}
	s.buf.PatchUint16(4, uint16(length))
	return nil
}

func (s *TCPStream) writeADU(ctx context.Context) error {
	s.applyDeadline(ctx)
	data := s.buf.Bytes()
	if hexLogger, ok := s.logger.(common.LoggerInterfaceHexdump); ok {
		hexLogger.Hexdump(ctx, data)
	}
	_, err := s.rw.Write(data)
	return err
}

// WriteRequest frames and sends a request, assigning the next transaction id
// from the per-stream counter.
func (s *TCPStream) WriteRequest(ctx context.Context, slave common.UnitID, req protocol.Request) (common.TransactionID, error) {
	s.mu.Lock()
	txID := s.transactionID
	s.transactionID++ // wraps modulo 2^16
	s.mu.Unlock()

	s.logger.Debug(ctx, "Writing request: txID=%d, unit=%d, function=%s", txID, slave, req.FunctionCode())

	if err := s.encodeADU(txID, slave, func(b *protocol.Buffer) error {
		return protocol.EncodeRequest(b, req)
	}); err != nil {
		return txID, err
	}
	return txID, s.writeADU(ctx)
}

// ReadResponse reads one response ADU and decodes the PDU into resp.
//
// The MBAP header is read in full first and validated: the transaction id
// must match the expected one, the protocol identifier must be 0, the unit
// id must match the addressed slave and the length field must lie in
// [2, 254]. Only then is the remaining length-1 bytes of the body read.
func (s *TCPStream) ReadResponse(ctx context.Context, txID common.TransactionID, slave common.UnitID, resp protocol.Response) error {
	// A broadcast gets no response; return success immediately.
	if slave == common.BroadcastUnitID {
		return nil
	}

	s.applyDeadline(ctx)
	s.buf.Reset()

	header, err := s.buf.Prepare(common.TCPHeaderLength)
	if err != nil {
		return err
	}
	if _, err := io.ReadFull(s.rw, header); err != nil {
		return err
	}
	s.buf.Commit(common.TCPHeaderLength)

	if hexLogger, ok := s.logger.(common.LoggerInterfaceHexdump); ok {
		hexLogger.Hexdump(ctx, header)
	}

	receivedTxID, err := s.buf.GetUint16()
	if err != nil {
		return err
	}
	protocolID, err := s.buf.GetUint16()
	if err != nil {
		return err
	}
	length, err := s.buf.GetUint16()
	if err != nil {
		return err
	}
	receivedUnit, err := s.buf.Get()
	if err != nil {
		return err
	}

	if common.TransactionID(receivedTxID) != txID {
		return common.ErrTransactionIDInvalid
	}
	if common.ProtocolID(protocolID) != common.TCPProtocolIdentifier {
		return common.ErrIllegalProtocol
	}
	if common.UnitID(receivedUnit) != slave {
		return common.ErrSlaveIDInvalid
	}
	if length < common.MinTCPLength || length > common.MaxTCPLength {
		return common.ErrInvalidResponse
	}

	body, err := s.buf.Prepare(int(length) - 1)
	if err != nil {
		return err
	}
	if _, err := io.ReadFull(s.rw, body); err != nil {
		return err
	}
	s.buf.Commit(int(length) - 1)

	if hexLogger, ok := s.logger.(common.LoggerInterfaceHexdump); ok {
		hexLogger.Hexdump(ctx, body)
	}

	return protocol.DecodeResponse(s.buf, resp)
}

// AsyncReadRequest reads one request ADU off the calling goroutine: a staged
// header read, then a body read, then the callback. An out-of-range length
// field synthesizes ErrRequestTooBig and invokes the callback without
// reading further; transport errors are handed to the callback as-is.
func (s *TCPStream) AsyncReadRequest(callback RequestCallback) {
	go func() {
		ctx := context.Background()
		s.buf.Reset()

		header, err := s.buf.Prepare(common.TCPHeaderLength)
		if err != nil {
			callback(0, 0, nil, err)
			return
		}
		if _, err := io.ReadFull(s.rw, header); err != nil {
			callback(0, 0, nil, err)
			return
		}
		s.buf.Commit(common.TCPHeaderLength)

		txID, _ := s.buf.GetUint16()
		protocolID, _ := s.buf.GetUint16()
		length, _ := s.buf.GetUint16()
		unit, _ := s.buf.Get()

		if common.ProtocolID(protocolID) != common.TCPProtocolIdentifier {
			callback(common.TransactionID(txID), common.UnitID(unit), nil, common.ErrIllegalProtocol)
			return
		}
		if length < common.MinTCPLength || length > common.MaxTCPLength {
			callback(common.TransactionID(txID), common.UnitID(unit), nil, common.ErrRequestTooBig)
			return
		}

		body, err := s.buf.Prepare(int(length) - 1)
		if err != nil {
			callback(common.TransactionID(txID), common.UnitID(unit), nil, err)
			return
		}
		if _, err := io.ReadFull(s.rw, body); err != nil {
			callback(common.TransactionID(txID), common.UnitID(unit), nil, err)
			return
		}
		s.buf.Commit(int(length) - 1)

		if hexLogger, ok := s.logger.(common.LoggerInterfaceHexdump); ok {
			hexLogger.Hexdump(ctx, s.buf.Data())
		}

		req, err := protocol.DecodeRequest(s.buf)
		callback(common.TransactionID(txID), common.UnitID(unit), req, err)
	}()
}

// WriteResponse frames and sends a response, echoing the request's
// transaction and unit ids.
func (s *TCPStream) WriteResponse(ctx context.Context, txID common.TransactionID, slave common.UnitID, resp protocol.Response) error {
	s.logger.Debug(ctx, "Writing response: txID=%d, unit=%d, function=%s", txID, slave, resp.FunctionCode())

	if err := s.encodeADU(txID, slave, func(b *protocol.Buffer) error {
		return protocol.EncodeResponse(b, resp)
	}); err != nil {
		return err
	}
	return s.writeADU(ctx)
}
