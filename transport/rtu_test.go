package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/TAMON-TECHNOLOGY/mothbus/common"
	"github.com/TAMON-TECHNOLOGY/mothbus/protocol"
)

// scriptPort is a BytePort serving a canned byte sequence. Running out of
// scripted bytes reads as line silence.
type scriptPort struct {
	data []byte
	pos  int
	out  bytes.Buffer
}

func (p *scriptPort) Write(b []byte) (int, error) {
	return p.out.Write(b)
}

func (p *scriptPort) ReadByteDeadline(timeout time.Duration) (byte, error) {
	if p.pos >= len(p.data) {
		return 0, common.ErrTimeout
	}
	b := p.data[p.pos]
	p.pos++
	return b, nil
}

// frameWithCRC appends the CRC of the given bytes, low byte first.
func frameWithCRC(data []byte) []byte {
	crc := CRC16(data)
	return append(append([]byte{}, data...), byte(crc&0xff), byte(crc>>8))
}

func TestRTUWriteRequestFraming(t *testing.T) {
	port := &scriptPort{}
	stream := NewRTUStream(port)

	req := &protocol.ReadHoldingRegistersRequest{StartingAddress: 0x0000, QuantityOfRegisters: 1}
	if _, err := stream.WriteRequest(context.Background(), 0x01, req); err != nil {
		t.Fatalf("WriteRequest returned error: %v", err)
	}

	// CRC is serialized low byte then high byte.
	expected := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01, 0x84, 0x0A}
	if !bytes.Equal(port.out.Bytes(), expected) {
		t.Errorf("ADU: expected % X, got % X", expected, port.out.Bytes())
	}
}

func TestRTUFakeTransactionCounter(t *testing.T) {
	port := &scriptPort{}
	stream := NewRTUStream(port)
	ctx := context.Background()

	req := &protocol.ReadHoldingRegistersRequest{StartingAddress: 0, QuantityOfRegisters: 1}

	first, err := stream.WriteRequest(ctx, 0x01, req)
	if err != nil {
		t.Fatalf("WriteRequest returned error: %v", err)
	}
	second, err := stream.WriteRequest(ctx, 0x01, req)
	if err != nil {
		t.Fatalf("WriteRequest returned error: %v", err)
	}
	if first != 0 || second != 1 {
		t.Errorf("fake transaction counter: expected 0 then 1, got %d then %d", first, second)
	}
}

func TestRTUReadResponse(t *testing.T) {
	port := &scriptPort{
		data: frameWithCRC([]byte{0x01, 0x03, 0x02, 0x12, 0x34}),
	}
	stream := NewRTUStream(port)

	resp := &protocol.ReadHoldingRegistersResponse{Values: make([]byte, 2)}
	if err := stream.ReadResponse(context.Background(), 0, 0x01, resp); err != nil {
		t.Fatalf("ReadResponse returned error: %v", err)
	}

	if resp.ByteCount != 2 {
		t.Errorf("ByteCount: expected 2, got %d", resp.ByteCount)
	}
	if !bytes.Equal(resp.Values, []byte{0x12, 0x34}) {
		t.Errorf("Values: expected 12 34, got % X", resp.Values)
	}
}

func TestRTUReadResponseTimeout(t *testing.T) {
	port := &scriptPort{}
	stream := NewRTUStream(port)

	resp := &protocol.ReadHoldingRegistersResponse{Values: make([]byte, 2)}
	err := stream.ReadResponse(context.Background(), 0, 0x01, resp)
	if !errors.Is(err, common.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestRTUReadResponseWrongSlave(t *testing.T) {
	port := &scriptPort{
		data: frameWithCRC([]byte{0x02, 0x03, 0x02, 0x12, 0x34}),
	}
	stream := NewRTUStream(port)

	resp := &protocol.ReadHoldingRegistersResponse{Values: make([]byte, 2)}
	err := stream.ReadResponse(context.Background(), 0, 0x01, resp)
	if !errors.Is(err, common.ErrProtocolError) {
		t.Errorf("expected ErrProtocolError, got %v", err)
	}
}

func TestRTUReadResponseCRCMismatch(t *testing.T) {
	frame := frameWithCRC([]byte{0x01, 0x03, 0x02, 0x12, 0x34})
	frame[len(frame)-1] ^= 0xFF
	port := &scriptPort{data: frame}
	stream := NewRTUStream(port)

	resp := &protocol.ReadHoldingRegistersResponse{Values: make([]byte, 2)}
	err := stream.ReadResponse(context.Background(), 0, 0x01, resp)
	if !errors.Is(err, common.ErrInvalidResponse) {
		t.Errorf("expected ErrInvalidResponse, got %v", err)
	}
}

func TestRTUReadResponseException(t *testing.T) {
	port := &scriptPort{
		data: frameWithCRC([]byte{0x01, 0x83, 0x02}),
	}
	stream := NewRTUStream(port)

	resp := &protocol.ReadHoldingRegistersResponse{Values: make([]byte, 2)}
	err := stream.ReadResponse(context.Background(), 0, 0x01, resp)
	if !common.IsExceptionError(err, common.ExceptionIllegalDataAddress) {
		t.Errorf("expected illegal data address exception, got %v", err)
	}
}

func TestRTUBroadcastSkipsResponse(t *testing.T) {
	port := &scriptPort{}
	stream := NewRTUStream(port)

	resp := &protocol.WriteSingleRegisterResponse{}
	if err := stream.ReadResponse(context.Background(), 0, common.BroadcastUnitID, resp); err != nil {
		t.Errorf("broadcast ReadResponse: expected immediate success, got %v", err)
	}
}

func TestRTUAsyncReadRequest(t *testing.T) {
	port := &scriptPort{
		data: frameWithCRC([]byte{0x11, 0x03, 0x00, 0x6B, 0x00, 0x03}),
	}
	stream := NewRTUStream(port)

	type result struct {
		unit common.UnitID
		req  protocol.Request
		err  error
	}
	done := make(chan result, 1)
	stream.AsyncReadRequest(func(txID common.TransactionID, unit common.UnitID, req protocol.Request, err error) {
		done <- result{unit, req, err}
	})

	var r result
	select {
	case r = <-done:
	case <-time.After(time.Second):
		t.Fatal("AsyncReadRequest callback never fired")
	}

	if r.err != nil {
		t.Fatalf("AsyncReadRequest returned error: %v", r.err)
	}
	if r.unit != 0x11 {
		t.Errorf("unit: expected 0x11, got %d", r.unit)
	}
	holding, ok := r.req.(*protocol.ReadHoldingRegistersRequest)
	if !ok {
		t.Fatalf("expected *protocol.ReadHoldingRegistersRequest, got %T", r.req)
	}
	if holding.StartingAddress != 0x006B || holding.QuantityOfRegisters != 3 {
		t.Errorf("decoded request: got %+v", holding)
	}
}

func TestRTUWriteResponseFraming(t *testing.T) {
	port := &scriptPort{}
	stream := NewRTUStream(port)

	resp := &protocol.WriteSingleRegisterResponse{Address: 0x0001, Value: 0x0003}
	if err := stream.WriteResponse(context.Background(), 0, 0x11, resp); err != nil {
		t.Fatalf("WriteResponse returned error: %v", err)
	}

	expected := frameWithCRC([]byte{0x11, 0x06, 0x00, 0x01, 0x00, 0x03})
	if !bytes.Equal(port.out.Bytes(), expected) {
		t.Errorf("ADU: expected % X, got % X", expected, port.out.Bytes())
	}
}

func TestPumpPortDeadline(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	port := NewPumpPort(struct {
		io.Reader
		io.Writer
	}{pr, io.Discard})

	// No byte available: the timer wins and the read outcome is parked.
	start := time.Now()
	_, err := port.ReadByteDeadline(10 * time.Millisecond)
	if !errors.Is(err, common.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("deadline read took far too long")
	}

	// The parked read must deliver a late byte on the next call instead of
	// dropping it.
	go pw.Write([]byte{0x42})
	b, err := port.ReadByteDeadline(time.Second)
	if err != nil {
		t.Fatalf("ReadByteDeadline returned error: %v", err)
	}
	if b != 0x42 {
		t.Errorf("expected 0x42, got 0x%02X", b)
	}
}
