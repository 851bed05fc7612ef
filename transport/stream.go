package transport

import (
	"context"

	"github.com/TAMON-TECHNOLOGY/mothbus/common"
	"github.com/TAMON-TECHNOLOGY/mothbus/protocol"
)

// RequestCallback is invoked once per request read by AsyncReadRequest. On a
// framing or transport error the request may be nil or partially decoded;
// the error tells the server how to proceed (exception reply or connection
// teardown).
type RequestCallback func(txID common.TransactionID, unit common.UnitID, req protocol.Request, err error)

// Stream is the common ADU framing interface implemented by the Modbus TCP
// and Modbus RTU bindings. The master facade is generic over it; the server
// drives the async side.
type Stream interface {
	// WriteRequest frames and transmits a request PDU, returning the
	// transaction id the caller must use for correlation. RTU maintains a
	// fake counter so the correlation API is uniform across bindings.
	WriteRequest(ctx context.Context, slave common.UnitID, req protocol.Request) (common.TransactionID, error)

	// ReadResponse reads one response ADU, validates the framing against the
	// expected transaction and slave ids and decodes the PDU into resp.
	// A broadcast (slave 0) returns immediately without reading.
	ReadResponse(ctx context.Context, txID common.TransactionID, slave common.UnitID, resp protocol.Response) error

	// AsyncReadRequest reads one request ADU off the calling goroutine and
	// hands the decoded request to the callback.
	AsyncReadRequest(callback RequestCallback)

	// WriteResponse frames and transmits a response PDU, echoing the
	// request's transaction and unit ids.
	WriteResponse(ctx context.Context, txID common.TransactionID, slave common.UnitID, resp protocol.Response) error
}

// WriteExceptionResponse replies with fc|0x80 and the given exception code.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 7 (Exception Responses)
func WriteExceptionResponse(ctx context.Context, s Stream, txID common.TransactionID, unit common.UnitID, fc common.FunctionCode, code common.ExceptionCode) error {
	return s.WriteResponse(ctx, txID, unit, &protocol.ExceptionResponse{FC: fc, Code: code})
}
