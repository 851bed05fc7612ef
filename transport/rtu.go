package transport

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/TAMON-TECHNOLOGY/mothbus/common"
	"github.com/TAMON-TECHNOLOGY/mothbus/logging"
	"github.com/TAMON-TECHNOLOGY/mothbus/protocol"
)

// Default RTU timing. The serial line spec delimits frames by silence: at
// least 1.5 character times inside a frame, 3.5 between frames. We use a
// configurable intra-frame timeout plus a separate first-byte timeout.
// Ref: Modbus_over_serial_line_V1_02.pdf, Section 2.5.1.1 (RTU Framing)
const (
	DefaultResponseTimeout  = 10 * time.Millisecond
	DefaultInterCharTimeout = 1800 * time.Microsecond
)

// BytePort is the byte source/sink an RTUStream frames over. ReadByteDeadline
// returns common.ErrTimeout when no byte arrives within the deadline; the
// pending read must not be lost, a byte arriving later is delivered by the
// next call.
type BytePort interface {
	io.Writer
	ReadByteDeadline(timeout time.Duration) (byte, error)
}

// RTUStream frames PDUs into Modbus RTU ADUs: slave address, PDU, CRC-16
// serialized low byte first. The CRC covers the address and the PDU.
//
// A fake transaction id counter is maintained so the request/response
// correlation API is uniform with the TCP binding; the value never appears
// on the wire.
type RTUStream struct {
	logger common.LoggerInterface
	port   BytePort
	buf    *protocol.Buffer

	responseTimeout  time.Duration
	interCharTimeout time.Duration

	mu            sync.Mutex
	transactionID common.TransactionID
}

// RTUStreamOption is a function that configures an RTUStream
type RTUStreamOption func(*RTUStream)

// WithRTULogger sets the logger for the stream
func WithRTULogger(logger common.LoggerInterface) RTUStreamOption {
	return func(s *RTUStream) {
		s.logger = logger
	}
}

// WithResponseTimeout sets the time to wait for the first byte of a reply
func WithResponseTimeout(d time.Duration) RTUStreamOption {
	return func(s *RTUStream) {
		if d > 0 {
			s.responseTimeout = d
		}
	}
}

// WithInterCharTimeout sets the intra-frame silence that ends a frame,
// roughly 1.5 character times at the configured baud rate
func WithInterCharTimeout(d time.Duration) RTUStreamOption {
	return func(s *RTUStream) {
		if d > 0 {
			s.interCharTimeout = d
		}
	}
}

// NewRTUStream creates an RTU ADU stream over a byte port, typically an
// opened serial port.
func NewRTUStream(port BytePort, options ...RTUStreamOption) *RTUStream {
	s := &RTUStream{
		logger:           logging.NewNoopLogger(),
		port:             port,
		buf:              protocol.NewBuffer(common.MaxRTUADULength),
		responseTimeout:  DefaultResponseTimeout,
		interCharTimeout: DefaultInterCharTimeout,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// encodeADU frames a PDU into the stream buffer: address, PDU, CRC low then
// high, the CRC computed over address and PDU.
func (s *RTUStream) encodeADU(unit common.UnitID, encode func(*protocol.Buffer) error) error {
	s.buf.Reset()
	if err := s.buf.Put(byte(unit)); err != nil {
		return err
	}
	if err := encode(s.buf); err != nil {
		return err
	}
	crc := CRC16(s.buf.Bytes())
	if err := s.buf.Put(byte(crc & 0xff)); err != nil {
		return err
	}
	return s.buf.Put(byte(crc >> 8))
}

func (s *RTUStream) writeADU(ctx context.Context) error {
	data := s.buf.Bytes()
	if hexLogger, ok := s.logger.(common.LoggerInterfaceHexdump); ok {
		hexLogger.Hexdump(ctx, data)
	}
	_, err := s.port.Write(data)
	return err
}

// WriteRequest frames and sends a request. The returned transaction id comes
// from the fake per-stream counter.
func (s *RTUStream) WriteRequest(ctx context.Context, slave common.UnitID, req protocol.Request) (common.TransactionID, error) {
	s.mu.Lock()
	txID := s.transactionID
	s.transactionID++
	s.mu.Unlock()

	s.logger.Debug(ctx, "Writing request: slave=%d, function=%s", slave, req.FunctionCode())

	if err := s.encodeADU(slave, func(b *protocol.Buffer) error {
		return protocol.EncodeRequest(b, req)
	}); err != nil {
		return txID, err
	}
	return txID, s.writeADU(ctx)
}

// readRemainder accumulates frame bytes after the first one until the
// inter-character silence elapses. The silence ends the frame; any other
// read error aborts it.
func (s *RTUStream) readRemainder(frame []byte) ([]byte, error) {
	for {
		c, err := s.port.ReadByteDeadline(s.interCharTimeout)
		if err == common.ErrTimeout {
			return frame, nil
		}
		if err != nil {
			return nil, err
		}
		if len(frame) >= common.MaxRTUADULength {
			return nil, common.ErrRequestTooBig
		}
		frame = append(frame, c)
	}
}

// verifyCRC recomputes the CRC over address and PDU and compares it against
// the trailing two bytes, low byte first.
func verifyCRC(frame []byte) bool {
	n := len(frame)
	crc := CRC16(frame[:n-2])
	return frame[n-2] == byte(crc&0xff) && frame[n-1] == byte(crc>>8)
}

// ReadResponse receives one response frame, delimited by silence.
//
// The first byte is awaited up to the response timeout and must carry the
// expected slave address. Subsequent bytes are read with the
// inter-character timeout; silence completes the frame. The PDU is decoded
// from the accumulated bytes and the CRC verified over address plus PDU.
func (s *RTUStream) ReadResponse(ctx context.Context, txID common.TransactionID, slave common.UnitID, resp protocol.Response) error {
	// A broadcast gets no response; return success immediately.
	if slave == common.BroadcastUnitID {
		return nil
	}

	first, err := s.port.ReadByteDeadline(s.responseTimeout)
	if err == common.ErrTimeout {
		return common.ErrTimeout
	}
	if err != nil {
		return err
	}
	if common.UnitID(first) != slave {
		return common.ErrProtocolError
	}

	frame, err := s.readRemainder([]byte{first})
	if err != nil {
		return err
	}
	// address + function code + CRC is the shortest well-formed frame
	if len(frame) < 4 {
		return common.ErrInvalidResponse
	}

	if hexLogger, ok := s.logger.(common.LoggerInterfaceHexdump); ok {
		hexLogger.Hexdump(ctx, frame)
	}

	if !verifyCRC(frame) {
		return common.ErrInvalidResponse
	}
	return protocol.DecodeResponse(protocol.NewReadBuffer(frame[1:len(frame)-2]), resp)
}

// AsyncReadRequest reads one request frame off the calling goroutine. The
// wait for the first byte uses the response timeout; a server loop treats
// common.ErrTimeout as "no request yet" and retries.
func (s *RTUStream) AsyncReadRequest(callback RequestCallback) {
	go func() {
		first, err := s.port.ReadByteDeadline(s.responseTimeout)
		if err != nil {
			callback(0, 0, nil, err)
			return
		}

		frame, err := s.readRemainder([]byte{first})
		if err != nil {
			callback(0, 0, nil, err)
			return
		}
		if len(frame) < 4 {
			callback(0, 0, nil, common.ErrInvalidResponse)
			return
		}
		unit := common.UnitID(frame[0])

		s.mu.Lock()
		txID := s.transactionID
		s.transactionID++
		s.mu.Unlock()

		if !verifyCRC(frame) {
			callback(txID, unit, nil, common.ErrInvalidCRC)
			return
		}

		req, err := protocol.DecodeRequest(protocol.NewReadBuffer(frame[1 : len(frame)-2]))
		callback(txID, unit, req, err)
	}()
}

// WriteResponse frames and sends a response. The transaction id is accepted
// for interface uniformity and not transmitted.
func (s *RTUStream) WriteResponse(ctx context.Context, txID common.TransactionID, slave common.UnitID, resp protocol.Response) error {
	if err := s.encodeADU(slave, func(b *protocol.Buffer) error {
		return protocol.EncodeResponse(b, resp)
	}); err != nil {
		return err
	}
	return s.writeADU(ctx)
}
