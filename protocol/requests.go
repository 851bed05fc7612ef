package protocol

import (
	"github.com/TAMON-TECHNOLOGY/mothbus/common"
)

// ReadCoilsRequest reads a contiguous block of coils.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.1 (Read Coils)
//
// PDU Data:
// Starting Address (2 bytes)
// Quantity of Coils (2 bytes), constraints: 1 to 2000
type ReadCoilsRequest struct {
	StartingAddress uint16
	Quantity        uint16
}

func (r *ReadCoilsRequest) FunctionCode() common.FunctionCode { return common.FuncReadCoils }

func (r *ReadCoilsRequest) Encode(b *Buffer) error {
	if err := b.PutUint16(r.StartingAddress); err != nil {
		return err
	}
	return b.PutUint16(r.Quantity)
}

func (r *ReadCoilsRequest) Decode(b *Buffer) error {
	var err error
	if r.StartingAddress, err = b.GetUint16(); err != nil {
		return err
	}
	r.Quantity, err = b.GetUint16()
	return err
}

// ReadDiscreteInputsRequest reads a contiguous block of discrete inputs.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.2 (Read Discrete Inputs)
type ReadDiscreteInputsRequest struct {
	StartingAddress uint16
	Quantity        uint16
}

func (r *ReadDiscreteInputsRequest) FunctionCode() common.FunctionCode {
	return common.FuncReadDiscreteInputs
}

func (r *ReadDiscreteInputsRequest) Encode(b *Buffer) error {
	if err := b.PutUint16(r.StartingAddress); err != nil {
		return err
	}
	return b.PutUint16(r.Quantity)
}

func (r *ReadDiscreteInputsRequest) Decode(b *Buffer) error {
	var err error
	if r.StartingAddress, err = b.GetUint16(); err != nil {
		return err
	}
	r.Quantity, err = b.GetUint16()
	return err
}

// ReadHoldingRegistersRequest reads a contiguous block of holding registers.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.3 (Read Holding Registers)
//
// PDU Data:
// Starting Address (2 bytes)
// Quantity of Registers (2 bytes), constraints: 1 to 125
type ReadHoldingRegistersRequest struct {
	StartingAddress     uint16
	QuantityOfRegisters uint16
}

func (r *ReadHoldingRegistersRequest) FunctionCode() common.FunctionCode {
	return common.FuncReadHoldingRegisters
}

func (r *ReadHoldingRegistersRequest) Encode(b *Buffer) error {
	if err := b.PutUint16(r.StartingAddress); err != nil {
		return err
	}
	return b.PutUint16(r.QuantityOfRegisters)
}

func (r *ReadHoldingRegistersRequest) Decode(b *Buffer) error {
	var err error
	if r.StartingAddress, err = b.GetUint16(); err != nil {
		return err
	}
	r.QuantityOfRegisters, err = b.GetUint16()
	return err
}

// ReadInputRegistersRequest reads a contiguous block of input registers.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.4 (Read Input Registers)
type ReadInputRegistersRequest struct {
	StartingAddress     uint16
	QuantityOfRegisters uint16
}

func (r *ReadInputRegistersRequest) FunctionCode() common.FunctionCode {
	return common.FuncReadInputRegisters
}

func (r *ReadInputRegistersRequest) Encode(b *Buffer) error {
	if err := b.PutUint16(r.StartingAddress); err != nil {
		return err
	}
	return b.PutUint16(r.QuantityOfRegisters)
}

func (r *ReadInputRegistersRequest) Decode(b *Buffer) error {
	var err error
	if r.StartingAddress, err = b.GetUint16(); err != nil {
		return err
	}
	r.QuantityOfRegisters, err = b.GetUint16()
	return err
}

// WriteSingleCoilRequest writes a single coil to either ON or OFF.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.5 (Write Single Coil)
//
// PDU Data:
// Output Address (2 bytes)
// Output Value (2 bytes: 0xFF00 for ON, 0x0000 for OFF)
// "All other values are illegal and will not affect the coil."
type WriteSingleCoilRequest struct {
	Address uint16
	Value   uint16
}

func (r *WriteSingleCoilRequest) FunctionCode() common.FunctionCode {
	return common.FuncWriteSingleCoil
}

func (r *WriteSingleCoilRequest) Encode(b *Buffer) error {
	if r.Value != common.CoilOnU16 && r.Value != common.CoilOffU16 {
		return common.NewModbusError(r.FunctionCode(), common.ExceptionIllegalDataValue)
	}
	if err := b.PutUint16(r.Address); err != nil {
		return err
	}
	return b.PutUint16(r.Value)
}

func (r *WriteSingleCoilRequest) Decode(b *Buffer) error {
	var err error
	if r.Address, err = b.GetUint16(); err != nil {
		return err
	}
	if r.Value, err = b.GetUint16(); err != nil {
		return err
	}
	if r.Value != common.CoilOnU16 && r.Value != common.CoilOffU16 {
		return common.NewModbusError(r.FunctionCode(), common.ExceptionIllegalDataValue)
	}
	return nil
}

// WriteSingleRegisterRequest writes a single holding register.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.6 (Write Single Register)
type WriteSingleRegisterRequest struct {
	Address uint16
	Value   uint16
}

func (r *WriteSingleRegisterRequest) FunctionCode() common.FunctionCode {
	return common.FuncWriteSingleRegister
}

func (r *WriteSingleRegisterRequest) Encode(b *Buffer) error {
	if err := b.PutUint16(r.Address); err != nil {
		return err
	}
	return b.PutUint16(r.Value)
}

func (r *WriteSingleRegisterRequest) Decode(b *Buffer) error {
	var err error
	if r.Address, err = b.GetUint16(); err != nil {
		return err
	}
	r.Value, err = b.GetUint16()
	return err
}

// WriteMultipleCoilsRequest writes a sequence of coils.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.11 (Write Multiple Coils)
//
// PDU Data:
// Starting Address (2 bytes)
// Quantity of Outputs (2 bytes), constraints: 1 to 1968
// Byte Count (1 byte) = ceil(quantity / 8)
// Output Values (Byte Count bytes, packed bits, LSB of first byte = lowest address)
type WriteMultipleCoilsRequest struct {
	StartingAddress uint16
	Quantity        uint16
	Values          []byte
}

func (r *WriteMultipleCoilsRequest) FunctionCode() common.FunctionCode {
	return common.FuncWriteMultipleCoils
}

func (r *WriteMultipleCoilsRequest) byteCount() int {
	return (int(r.Quantity) + 7) / 8
}

func (r *WriteMultipleCoilsRequest) Encode(b *Buffer) error {
	if r.Quantity == 0 || r.Quantity > common.MaxWriteCoilCount || len(r.Values) != r.byteCount() {
		return common.NewModbusError(r.FunctionCode(), common.ExceptionIllegalDataValue)
	}
	if err := b.PutUint16(r.StartingAddress); err != nil {
		return err
	}
	if err := b.PutUint16(r.Quantity); err != nil {
		return err
	}
	if err := b.Put(byte(len(r.Values))); err != nil {
		return err
	}
	return b.PutBytes(r.Values)
}

func (r *WriteMultipleCoilsRequest) Decode(b *Buffer) error {
	var err error
	if r.StartingAddress, err = b.GetUint16(); err != nil {
		return err
	}
	if r.Quantity, err = b.GetUint16(); err != nil {
		return err
	}
	byteCount, err := b.Get()
	if err != nil {
		return err
	}
	if r.Quantity == 0 || r.Quantity > common.MaxWriteCoilCount || int(byteCount) != r.byteCount() {
		return common.NewModbusError(r.FunctionCode(), common.ExceptionIllegalDataValue)
	}
	r.Values = make([]byte, byteCount)
	return b.GetBytes(r.Values)
}

// WriteMultipleRegistersRequest writes a block of contiguous registers.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.12 (Write Multiple Registers)
//
// PDU Data:
// Starting Address (2 bytes)
// Quantity of Registers (2 bytes), constraints: 1 to 123
// Byte Count (1 byte) = 2 x quantity
// Register Values (quantity x 2 bytes)
type WriteMultipleRegistersRequest struct {
	StartingAddress uint16
	Values          []uint16
}

func (r *WriteMultipleRegistersRequest) FunctionCode() common.FunctionCode {
	return common.FuncWriteMultipleRegisters
}

func (r *WriteMultipleRegistersRequest) Encode(b *Buffer) error {
	quantity := len(r.Values)
	if quantity == 0 || quantity > common.MaxWriteRegisterCount {
		return common.NewModbusError(r.FunctionCode(), common.ExceptionIllegalDataValue)
	}
	if err := b.PutUint16(r.StartingAddress); err != nil {
		return err
	}
	if err := b.PutUint16(uint16(quantity)); err != nil {
		return err
	}
	if err := b.Put(byte(2 * quantity)); err != nil {
		return err
	}
	for _, v := range r.Values {
		if err := b.PutUint16(v); err != nil {
			return err
		}
	}
	return nil
}

func (r *WriteMultipleRegistersRequest) Decode(b *Buffer) error {
	var err error
	if r.StartingAddress, err = b.GetUint16(); err != nil {
		return err
	}
	quantity, err := b.GetUint16()
	if err != nil {
		return err
	}
	byteCount, err := b.Get()
	if err != nil {
		return err
	}
	if quantity == 0 || quantity > common.MaxWriteRegisterCount || int(byteCount) != 2*int(quantity) {
		return common.NewModbusError(r.FunctionCode(), common.ExceptionIllegalDataValue)
	}
	r.Values = make([]uint16, quantity)
	for i := range r.Values {
		if r.Values[i], err = b.GetUint16(); err != nil {
			return err
		}
	}
	return nil
}

// ReadWriteMultipleRegistersRequest performs a write then a read in one
// transaction.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.17 (Read/Write Multiple Registers)
//
// PDU Data:
// Read Starting Address (2 bytes)
// Quantity to Read (2 bytes), constraints: 1 to 125
// Write Starting Address (2 bytes)
// Quantity to Write (2 bytes), constraints: 1 to 121
// Write Byte Count (1 byte) = 2 x write quantity
// Write Register Values (write quantity x 2 bytes)
type ReadWriteMultipleRegistersRequest struct {
	ReadStartingAddress  uint16
	ReadQuantity         uint16
	WriteStartingAddress uint16
	WriteValues          []uint16
}

func (r *ReadWriteMultipleRegistersRequest) FunctionCode() common.FunctionCode {
	return common.FuncReadWriteMultipleRegisters
}

func (r *ReadWriteMultipleRegistersRequest) Encode(b *Buffer) error {
	writeQuantity := len(r.WriteValues)
	if r.ReadQuantity == 0 || r.ReadQuantity > common.MaxReadRegisterCount ||
		writeQuantity == 0 || writeQuantity > common.MaxReadWriteWriteCount {
		return common.NewModbusError(r.FunctionCode(), common.ExceptionIllegalDataValue)
	}
	if err := b.PutUint16(r.ReadStartingAddress); err != nil {
		return err
	}
	if err := b.PutUint16(r.ReadQuantity); err != nil {
		return err
	}
	if err := b.PutUint16(r.WriteStartingAddress); err != nil {
		return err
	}
	if err := b.PutUint16(uint16(writeQuantity)); err != nil {
		return err
	}
	if err := b.Put(byte(2 * writeQuantity)); err != nil {
		return err
	}
	for _, v := range r.WriteValues {
		if err := b.PutUint16(v); err != nil {
			return err
		}
	}
	return nil
}

func (r *ReadWriteMultipleRegistersRequest) Decode(b *Buffer) error {
	var err error
	if r.ReadStartingAddress, err = b.GetUint16(); err != nil {
		return err
	}
	if r.ReadQuantity, err = b.GetUint16(); err != nil {
		return err
	}
	if r.WriteStartingAddress, err = b.GetUint16(); err != nil {
		return err
	}
	writeQuantity, err := b.GetUint16()
	if err != nil {
		return err
	}
	byteCount, err := b.Get()
	if err != nil {
		return err
	}
	if r.ReadQuantity == 0 || r.ReadQuantity > common.MaxReadRegisterCount ||
		writeQuantity == 0 || writeQuantity > common.MaxReadWriteWriteCount ||
		int(byteCount) != 2*int(writeQuantity) {
		return common.NewModbusError(r.FunctionCode(), common.ExceptionIllegalDataValue)
	}
	r.WriteValues = make([]uint16, writeQuantity)
	for i := range r.WriteValues {
		if r.WriteValues[i], err = b.GetUint16(); err != nil {
			return err
		}
	}
	return nil
}
