package protocol

import (
	"github.com/TAMON-TECHNOLOGY/mothbus/common"
)

// Request is one variant of the incoming-request sum: a typed request for a
// recognized function code, or NotImplemented for anything else. The set of
// recognized variants is fixed at build time in DecodeRequest.
type Request interface {
	// FunctionCode returns the one-byte Modbus operation identifier.
	FunctionCode() common.FunctionCode
	// Encode serializes the request body (excluding the function code).
	Encode(b *Buffer) error
	// Decode fills the request body from the buffer (function code already
	// consumed by the dispatcher).
	Decode(b *Buffer) error
}

// Response is a typed response PDU.
type Response interface {
	FunctionCode() common.FunctionCode
	Encode(b *Buffer) error
	Decode(b *Buffer) error
}

// NotImplemented stands in for any function code outside the recognized set.
type NotImplemented struct {
	FC common.FunctionCode
}

func (r *NotImplemented) FunctionCode() common.FunctionCode { return r.FC }

func (r *NotImplemented) Encode(b *Buffer) error {
	return common.NewModbusError(r.FC, common.ExceptionIllegalFunction)
}

func (r *NotImplemented) Decode(b *Buffer) error { return nil }

// EncodeRequest writes the function code followed by the request body.
func EncodeRequest(b *Buffer, req Request) error {
	if err := b.Put(byte(req.FunctionCode())); err != nil {
		return err
	}
	return req.Encode(b)
}

// DecodeRequest reads one function-code byte and dispatches to the matching
// typed decoder. An unrecognized code yields NotImplemented together with an
// illegal-function error; the caller can still reply with the proper
// exception response. Sub-decoder failures (buffer underrun, mutually
// inconsistent lengths) are propagated.
func DecodeRequest(b *Buffer) (Request, error) {
	fc, err := b.Get()
	if err != nil {
		return nil, err
	}

	var req Request
	switch common.FunctionCode(fc) {
	case common.FuncReadCoils:
		req = &ReadCoilsRequest{}
	case common.FuncReadDiscreteInputs:
		req = &ReadDiscreteInputsRequest{}
	case common.FuncReadHoldingRegisters:
		req = &ReadHoldingRegistersRequest{}
	case common.FuncReadInputRegisters:
		req = &ReadInputRegistersRequest{}
	case common.FuncWriteSingleCoil:
		req = &WriteSingleCoilRequest{}
	case common.FuncWriteSingleRegister:
		req = &WriteSingleRegisterRequest{}
	case common.FuncWriteMultipleCoils:
		req = &WriteMultipleCoilsRequest{}
	case common.FuncWriteMultipleRegisters:
		req = &WriteMultipleRegistersRequest{}
	case common.FuncReadWriteMultipleRegisters:
		req = &ReadWriteMultipleRegistersRequest{}
	default:
		return &NotImplemented{FC: common.FunctionCode(fc)},
			common.NewModbusError(common.FunctionCode(fc), common.ExceptionIllegalFunction)
	}

	if err := req.Decode(b); err != nil {
		return req, err
	}
	return req, nil
}

// EncodeResponse writes the function code followed by the response body.
func EncodeResponse(b *Buffer, resp Response) error {
	if err := b.Put(byte(resp.FunctionCode())); err != nil {
		return err
	}
	return resp.Encode(b)
}

// DecodeResponse reads one function-code byte. The high bit marks a Modbus
// exception: the exception code byte is read and returned as a ModbusError.
// Otherwise the code must match the expected response type, and the body is
// decoded into it.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 7 (Exception Responses)
func DecodeResponse(b *Buffer, resp Response) error {
	fc, err := b.Get()
	if err != nil {
		return err
	}

	if common.IsException(fc) {
		code, err := b.Get()
		if err != nil {
			return err
		}
		return common.NewModbusError(
			common.FunctionCode(fc&^common.ExceptionBit),
			common.ExceptionCode(code),
		)
	}

	if common.FunctionCode(fc) != resp.FunctionCode() {
		return common.ErrInvalidResponse
	}
	return resp.Decode(b)
}

// ExceptionResponse carries the exception branch of a reply: the request's
// function code with the high bit set, plus one exception code byte.
type ExceptionResponse struct {
	FC   common.FunctionCode
	Code common.ExceptionCode
}

func (r *ExceptionResponse) FunctionCode() common.FunctionCode {
	return common.FunctionCode(byte(r.FC) | common.ExceptionBit)
}

func (r *ExceptionResponse) Encode(b *Buffer) error {
	return b.Put(byte(r.Code))
}

func (r *ExceptionResponse) Decode(b *Buffer) error {
	code, err := b.Get()
	if err != nil {
		return err
	}
	r.Code = common.ExceptionCode(code)
	return nil
}
