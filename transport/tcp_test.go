package transport

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/TAMON-TECHNOLOGY/mothbus/common"
	"github.com/TAMON-TECHNOLOGY/mothbus/protocol"
)

// fakeConn is an in-memory byte stream: the test scripts what the stream
// will read and inspects what it wrote.
type fakeConn struct {
	in  bytes.Buffer
	out bytes.Buffer
}

func (f *fakeConn) Read(p []byte) (int, error)  { return f.in.Read(p) }
func (f *fakeConn) Write(p []byte) (int, error) { return f.out.Write(p) }

func TestTCPWriteRequestFraming(t *testing.T) {
	conn := &fakeConn{}
	stream := NewTCPStream(conn)
	ctx := context.Background()

	req := &protocol.ReadHoldingRegistersRequest{StartingAddress: 0x0000, QuantityOfRegisters: 1}

	// The counter starts at 0; the second request carries transaction id 1.
	txID, err := stream.WriteRequest(ctx, 0x11, req)
	if err != nil {
		t.Fatalf("WriteRequest returned error: %v", err)
	}
	if txID != 0 {
		t.Errorf("first transaction id: expected 0, got %d", txID)
	}
	conn.out.Reset()

	txID, err = stream.WriteRequest(ctx, 0x11, req)
	if err != nil {
		t.Fatalf("WriteRequest returned error: %v", err)
	}
	if txID != 1 {
		t.Errorf("second transaction id: expected 1, got %d", txID)
	}

	expected := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x11, 0x03, 0x00, 0x00, 0x00, 0x01}
	if !bytes.Equal(conn.out.Bytes(), expected) {
		t.Errorf("ADU: expected % X, got % X", expected, conn.out.Bytes())
	}
}

func TestTCPTransactionIDWraps(t *testing.T) {
	conn := &fakeConn{}
	stream := NewTCPStream(conn)
	stream.transactionID = 0xFFFF
	ctx := context.Background()

	req := &protocol.ReadHoldingRegistersRequest{StartingAddress: 0, QuantityOfRegisters: 1}

	txID, err := stream.WriteRequest(ctx, 1, req)
	if err != nil {
		t.Fatalf("WriteRequest returned error: %v", err)
	}
	if txID != 0xFFFF {
		t.Errorf("expected transaction id 0xFFFF, got %d", txID)
	}

	conn.out.Reset()
	txID, err = stream.WriteRequest(ctx, 1, req)
	if err != nil {
		t.Fatalf("WriteRequest returned error: %v", err)
	}
	if txID != 0 {
		t.Errorf("counter should wrap to 0, got %d", txID)
	}
}

// respond frames a response PDU under an MBAP header into the fake
// connection's input.
func respond(conn *fakeConn, txID uint16, unit byte, pdu []byte) {
	header := []byte{
		byte(txID >> 8), byte(txID & 0xff),
		0x00, 0x00,
		byte((1 + len(pdu)) >> 8), byte((1 + len(pdu)) & 0xff),
		unit,
	}
	conn.in.Write(header)
	conn.in.Write(pdu)
}

func TestTCPReadResponse(t *testing.T) {
	conn := &fakeConn{}
	stream := NewTCPStream(conn)
	ctx := context.Background()

	respond(conn, 0, 0x11, []byte{0x03, 0x02, 0x12, 0x34})

	resp := &protocol.ReadHoldingRegistersResponse{Values: make([]byte, 2)}
	if err := stream.ReadResponse(ctx, 0, 0x11, resp); err != nil {
		t.Fatalf("ReadResponse returned error: %v", err)
	}

	if resp.ByteCount != 2 {
		t.Errorf("ByteCount: expected 2, got %d", resp.ByteCount)
	}
	if !bytes.Equal(resp.Values, []byte{0x12, 0x34}) {
		t.Errorf("Values: expected 12 34, got % X", resp.Values)
	}
}

func TestTCPReadResponseValidation(t *testing.T) {
	tests := []struct {
		name     string
		header   []byte
		expected error
	}{
		{
			"TransactionIDMismatch",
			[]byte{0x00, 0x05, 0x00, 0x00, 0x00, 0x04, 0x11},
			common.ErrTransactionIDInvalid,
		},
		{
			"IllegalProtocol",
			[]byte{0x00, 0x00, 0x00, 0x01, 0x00, 0x04, 0x11},
			common.ErrIllegalProtocol,
		},
		{
			"SlaveIDMismatch",
			[]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x04, 0x12},
			common.ErrSlaveIDInvalid,
		},
		{
			"LengthTooSmall",
			[]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x11},
			common.ErrInvalidResponse,
		},
		{
			"LengthTooBig",
			[]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0xFF, 0x11},
			common.ErrInvalidResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &fakeConn{}
			conn.in.Write(tt.header)
			stream := NewTCPStream(conn)

			resp := &protocol.ReadHoldingRegistersResponse{Values: make([]byte, 2)}
			err := stream.ReadResponse(context.Background(), 0, 0x11, resp)
			if !errors.Is(err, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, err)
			}
		})
	}
}

func TestTCPBroadcastSkipsResponse(t *testing.T) {
	conn := &fakeConn{}
	stream := NewTCPStream(conn)

	// No response bytes are scripted: a broadcast must not read at all.
	resp := &protocol.WriteSingleRegisterResponse{}
	if err := stream.ReadResponse(context.Background(), 0, common.BroadcastUnitID, resp); err != nil {
		t.Errorf("broadcast ReadResponse: expected immediate success, got %v", err)
	}
}

func readRequestResult(t *testing.T, stream *TCPStream) (common.TransactionID, common.UnitID, protocol.Request, error) {
	t.Helper()
	type result struct {
		txID common.TransactionID
		unit common.UnitID
		req  protocol.Request
		err  error
	}
	done := make(chan result, 1)
	stream.AsyncReadRequest(func(txID common.TransactionID, unit common.UnitID, req protocol.Request, err error) {
		done <- result{txID, unit, req, err}
	})
	select {
	case r := <-done:
		return r.txID, r.unit, r.req, r.err
	case <-time.After(time.Second):
		t.Fatal("AsyncReadRequest callback never fired")
		return 0, 0, nil, nil
	}
}

func TestTCPAsyncReadRequest(t *testing.T) {
	conn := &fakeConn{}
	conn.in.Write([]byte{0x00, 0x2A, 0x00, 0x00, 0x00, 0x06, 0x11, 0x03, 0x00, 0x6B, 0x00, 0x03})
	stream := NewTCPStream(conn)

	txID, unit, req, err := readRequestResult(t, stream)
	if err != nil {
		t.Fatalf("AsyncReadRequest returned error: %v", err)
	}
	if txID != 0x2A {
		t.Errorf("transaction id: expected 0x2A, got %d", txID)
	}
	if unit != 0x11 {
		t.Errorf("unit id: expected 0x11, got %d", unit)
	}

	holding, ok := req.(*protocol.ReadHoldingRegistersRequest)
	if !ok {
		t.Fatalf("expected *protocol.ReadHoldingRegistersRequest, got %T", req)
	}
	if holding.StartingAddress != 0x006B || holding.QuantityOfRegisters != 3 {
		t.Errorf("decoded request: got %+v", holding)
	}
}

func TestTCPAsyncReadRequestTooBig(t *testing.T) {
	conn := &fakeConn{}
	// Length field of 300 exceeds the 254 byte bound; the body must not be
	// read.
	conn.in.Write([]byte{0x00, 0x01, 0x00, 0x00, 0x01, 0x2C, 0x11})
	stream := NewTCPStream(conn)

	_, _, _, err := readRequestResult(t, stream)
	if !errors.Is(err, common.ErrRequestTooBig) {
		t.Errorf("expected ErrRequestTooBig, got %v", err)
	}
	if conn.in.Len() != 0 {
		// Nothing was scripted beyond the header, and nothing further may
		// have been consumed.
		t.Errorf("unexpected bytes left: %d", conn.in.Len())
	}
}

func TestTCPAsyncReadRequestNotImplemented(t *testing.T) {
	conn := &fakeConn{}
	conn.in.Write([]byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x02, 0x11, 0x2B})
	stream := NewTCPStream(conn)

	_, _, req, err := readRequestResult(t, stream)
	if !common.IsExceptionError(err, common.ExceptionIllegalFunction) {
		t.Fatalf("expected illegal function error, got %v", err)
	}
	if _, ok := req.(*protocol.NotImplemented); !ok {
		t.Errorf("expected *protocol.NotImplemented, got %T", req)
	}
}

func TestTCPWriteResponseEchoesIDs(t *testing.T) {
	conn := &fakeConn{}
	stream := NewTCPStream(conn)

	resp := &protocol.WriteSingleRegisterResponse{Address: 0x0001, Value: 0x0003}
	if err := stream.WriteResponse(context.Background(), 0x2A, 0x11, resp); err != nil {
		t.Fatalf("WriteResponse returned error: %v", err)
	}

	expected := []byte{0x00, 0x2A, 0x00, 0x00, 0x00, 0x06, 0x11, 0x06, 0x00, 0x01, 0x00, 0x03}
	if !bytes.Equal(conn.out.Bytes(), expected) {
		t.Errorf("ADU: expected % X, got % X", expected, conn.out.Bytes())
	}
}

func TestTCPWriteExceptionResponse(t *testing.T) {
	conn := &fakeConn{}
	stream := NewTCPStream(conn)

	err := WriteExceptionResponse(context.Background(), stream, 0x07, 0x11,
		common.FuncReadHoldingRegisters, common.ExceptionIllegalDataAddress)
	if err != nil {
		t.Fatalf("WriteExceptionResponse returned error: %v", err)
	}

	expected := []byte{0x00, 0x07, 0x00, 0x00, 0x00, 0x03, 0x11, 0x83, 0x02}
	if !bytes.Equal(conn.out.Bytes(), expected) {
		t.Errorf("ADU: expected % X, got % X", expected, conn.out.Bytes())
	}
}
