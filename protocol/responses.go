package protocol

import (
	"github.com/TAMON-TECHNOLOGY/mothbus/common"
)

// encodeBytePayload writes byte count + values for the read responses.
func encodeBytePayload(b *Buffer, values []byte) error {
	if err := b.Put(byte(len(values))); err != nil {
		return err
	}
	return b.PutBytes(values)
}

// decodeBytePayload reads a byte count into the caller-supplied slot. The
// slot is narrowed to the received length; a count exceeding the slot fails
// with ErrTooManyBytesReceived.
func decodeBytePayload(b *Buffer, slot []byte) (byte, []byte, error) {
	byteCount, err := b.Get()
	if err != nil {
		return 0, nil, err
	}
	if int(byteCount) > len(slot) {
		return 0, nil, common.ErrTooManyBytesReceived
	}
	slot = slot[:byteCount]
	if err := b.GetBytes(slot); err != nil {
		return 0, nil, err
	}
	return byteCount, slot, nil
}

// ReadCoilsResponse carries packed coil status bits, LSB of the first byte
// being the lowest addressed coil. Values is a caller-supplied slot; decode
// narrows it to the received byte count.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.1 (Read Coils)
type ReadCoilsResponse struct {
	ByteCount byte
	Values    []byte
}

func (r *ReadCoilsResponse) FunctionCode() common.FunctionCode { return common.FuncReadCoils }

func (r *ReadCoilsResponse) Encode(b *Buffer) error {
	return encodeBytePayload(b, r.Values)
}

func (r *ReadCoilsResponse) Decode(b *Buffer) (err error) {
	r.ByteCount, r.Values, err = decodeBytePayload(b, r.Values)
	return err
}

// ReadDiscreteInputsResponse carries packed discrete input status bits.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.2 (Read Discrete Inputs)
type ReadDiscreteInputsResponse struct {
	ByteCount byte
	Values    []byte
}

func (r *ReadDiscreteInputsResponse) FunctionCode() common.FunctionCode {
	return common.FuncReadDiscreteInputs
}

func (r *ReadDiscreteInputsResponse) Encode(b *Buffer) error {
	return encodeBytePayload(b, r.Values)
}

func (r *ReadDiscreteInputsResponse) Decode(b *Buffer) (err error) {
	r.ByteCount, r.Values, err = decodeBytePayload(b, r.Values)
	return err
}

// ReadHoldingRegistersResponse carries register data packed two bytes per
// register, high order byte first.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.3 (Read Holding Registers)
type ReadHoldingRegistersResponse struct {
	ByteCount byte
	Values    []byte
}

func (r *ReadHoldingRegistersResponse) FunctionCode() common.FunctionCode {
	return common.FuncReadHoldingRegisters
}

func (r *ReadHoldingRegistersResponse) Encode(b *Buffer) error {
	return encodeBytePayload(b, r.Values)
}

func (r *ReadHoldingRegistersResponse) Decode(b *Buffer) (err error) {
	r.ByteCount, r.Values, err = decodeBytePayload(b, r.Values)
	return err
}

// ReadInputRegistersResponse carries input register data.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.4 (Read Input Registers)
type ReadInputRegistersResponse struct {
	ByteCount byte
	Values    []byte
}

func (r *ReadInputRegistersResponse) FunctionCode() common.FunctionCode {
	return common.FuncReadInputRegisters
}

func (r *ReadInputRegistersResponse) Encode(b *Buffer) error {
	return encodeBytePayload(b, r.Values)
}

func (r *ReadInputRegistersResponse) Decode(b *Buffer) (err error) {
	r.ByteCount, r.Values, err = decodeBytePayload(b, r.Values)
	return err
}

// WriteSingleCoilResponse is an echo of the request.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.5 (Write Single Coil)
type WriteSingleCoilResponse struct {
	Address uint16
	Value   uint16
}

func (r *WriteSingleCoilResponse) FunctionCode() common.FunctionCode {
	return common.FuncWriteSingleCoil
}

func (r *WriteSingleCoilResponse) Encode(b *Buffer) error {
	if err := b.PutUint16(r.Address); err != nil {
		return err
	}
	return b.PutUint16(r.Value)
}

func (r *WriteSingleCoilResponse) Decode(b *Buffer) error {
	var err error
	if r.Address, err = b.GetUint16(); err != nil {
		return err
	}
	if r.Value, err = b.GetUint16(); err != nil {
		return err
	}
	if r.Value != common.CoilOnU16 && r.Value != common.CoilOffU16 {
		return common.ErrInvalidResponse
	}
	return nil
}

// WriteSingleRegisterResponse is an echo of the request.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.6 (Write Single Register)
type WriteSingleRegisterResponse struct {
	Address uint16
	Value   uint16
}

func (r *WriteSingleRegisterResponse) FunctionCode() common.FunctionCode {
	return common.FuncWriteSingleRegister
}

func (r *WriteSingleRegisterResponse) Encode(b *Buffer) error {
	if err := b.PutUint16(r.Address); err != nil {
		return err
	}
	return b.PutUint16(r.Value)
}

func (r *WriteSingleRegisterResponse) Decode(b *Buffer) error {
	var err error
	if r.Address, err = b.GetUint16(); err != nil {
		return err
	}
	r.Value, err = b.GetUint16()
	return err
}

// WriteMultipleCoilsResponse returns the starting address and quantity of
// coils written.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.11 (Write Multiple Coils)
type WriteMultipleCoilsResponse struct {
	StartingAddress uint16
	Quantity        uint16
}

func (r *WriteMultipleCoilsResponse) FunctionCode() common.FunctionCode {
	return common.FuncWriteMultipleCoils
}

func (r *WriteMultipleCoilsResponse) Encode(b *Buffer) error {
	if err := b.PutUint16(r.StartingAddress); err != nil {
		return err
	}
	return b.PutUint16(r.Quantity)
}

func (r *WriteMultipleCoilsResponse) Decode(b *Buffer) error {
	var err error
	if r.StartingAddress, err = b.GetUint16(); err != nil {
		return err
	}
	r.Quantity, err = b.GetUint16()
	return err
}

// WriteMultipleRegistersResponse returns the starting address and quantity
// of registers written.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.12 (Write Multiple Registers)
type WriteMultipleRegistersResponse struct {
	StartingAddress uint16
	Quantity        uint16
}

func (r *WriteMultipleRegistersResponse) FunctionCode() common.FunctionCode {
	return common.FuncWriteMultipleRegisters
}

func (r *WriteMultipleRegistersResponse) Encode(b *Buffer) error {
	if err := b.PutUint16(r.StartingAddress); err != nil {
		return err
	}
	return b.PutUint16(r.Quantity)
}

func (r *WriteMultipleRegistersResponse) Decode(b *Buffer) error {
	var err error
	if r.StartingAddress, err = b.GetUint16(); err != nil {
		return err
	}
	r.Quantity, err = b.GetUint16()
	return err
}

// ReadWriteMultipleRegistersResponse carries the read side of a combined
// read/write transaction.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.17 (Read/Write Multiple Registers)
type ReadWriteMultipleRegistersResponse struct {
	ByteCount byte
	Values    []byte
}

func (r *ReadWriteMultipleRegistersResponse) FunctionCode() common.FunctionCode {
	return common.FuncReadWriteMultipleRegisters
}

func (r *ReadWriteMultipleRegistersResponse) Encode(b *Buffer) error {
	return encodeBytePayload(b, r.Values)
}

func (r *ReadWriteMultipleRegistersResponse) Decode(b *Buffer) (err error) {
	r.ByteCount, r.Values, err = decodeBytePayload(b, r.Values)
	return err
}
