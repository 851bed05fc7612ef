package client

import (
	"context"
	"fmt"

	"github.com/TAMON-TECHNOLOGY/mothbus/common"
	"github.com/TAMON-TECHNOLOGY/mothbus/logging"
	"github.com/TAMON-TECHNOLOGY/mothbus/protocol"
	"github.com/TAMON-TECHNOLOGY/mothbus/transport"
)

// Master is the client-side facade. It is generic over the ADU stream, so
// the same typed methods drive a Modbus TCP connection or an RTU bus: each
// method builds the typed request, writes it, reads the correlated response
// into the caller's buffer and validates the byte count.
//
// Out-of-range arguments are programming errors and panic; wire and
// transport failures are returned as errors. Operations on a given stream
// must be issued sequentially.
type Master struct {
	logger common.LoggerInterface
	stream transport.Stream
}

// Option is a function that configures a Master
type Option func(*Master)

// WithLogger sets the logger for the master
func WithLogger(logger common.LoggerInterface) Option {
	return func(m *Master) {
		m.logger = logger
	}
}

// NewMaster creates a master over an ADU stream.
func NewMaster(stream transport.Stream, options ...Option) *Master {
	m := &Master{
		logger: logging.NewNoopLogger(),
		stream: stream,
	}
	for _, option := range options {
		option(m)
	}
	return m
}

// assertf panics on a violated facade precondition.
func assertf(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}

// roundTrip writes the request and reads the correlated response. For a
// broadcast (slave 0) the response read is skipped and ok is false, telling
// the caller not to validate an echo that never arrived.
func (m *Master) roundTrip(ctx context.Context, slave common.UnitID, req protocol.Request, resp protocol.Response) (ok bool, err error) {
	txID, err := m.stream.WriteRequest(ctx, slave, req)
	if err != nil {
		return false, err
	}
	if slave == common.BroadcastUnitID {
		return false, nil
	}
	if err := m.stream.ReadResponse(ctx, txID, slave, resp); err != nil {
		return false, err
	}
	return true, nil
}

// unpackBits spreads packed coil bytes into one bool per coil, LSB of the
// first byte being the lowest address.
func unpackBits(data []byte, quantity uint16) []bool {
	values := make([]bool, quantity)
	for i := range values {
		values[i] = data[i/8]&(1<<uint(i%8)) != 0
	}
	return values
}

// packBits packs one bool per coil into bitmask bytes, LSB first.
func packBits(values []bool) []byte {
	data := make([]byte, (len(values)+7)/8)
	for i, v := range values {
		if v {
			data[i/8] |= 1 << uint(i%8)
		}
	}
	return data
}

// unpackRegisters converts big-endian wire bytes to native uint16 values.
func unpackRegisters(data []byte, out []uint16) {
	for i := range out {
		out[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
}

// readBits implements ReadCoils and ReadDiscreteInputs over the matching
// typed request and response.
func (m *Master) readBits(ctx context.Context, slave common.UnitID, req protocol.Request, resp protocol.Response, values *[]byte, quantity uint16) ([]bool, error) {
	byteCount := (int(quantity) + 7) / 8
	*values = make([]byte, byteCount)
	if _, err := m.roundTrip(ctx, slave, req, resp); err != nil {
		return nil, err
	}
	if len(*values) != byteCount {
		return nil, common.ErrInvalidResponse
	}
	return unpackBits(*values, quantity), nil
}

// ReadCoils reads quantity coils starting at address.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.1 (Read Coils)
func (m *Master) ReadCoils(ctx context.Context, slave common.UnitID, address uint16, quantity uint16) ([]bool, error) {
	assertf(quantity >= 1 && quantity <= common.MaxReadCoilCount,
		"modbus: read coils quantity %d out of range [1, %d]", quantity, common.MaxReadCoilCount)

	req := &protocol.ReadCoilsRequest{StartingAddress: address, Quantity: quantity}
	resp := &protocol.ReadCoilsResponse{}
	return m.readBits(ctx, slave, req, resp, &resp.Values, quantity)
}

// ReadDiscreteInputs reads quantity discrete inputs starting at address.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.2 (Read Discrete Inputs)
func (m *Master) ReadDiscreteInputs(ctx context.Context, slave common.UnitID, address uint16, quantity uint16) ([]bool, error) {
	assertf(quantity >= 1 && quantity <= common.MaxReadCoilCount,
		"modbus: read discrete inputs quantity %d out of range [1, %d]", quantity, common.MaxReadCoilCount)

	req := &protocol.ReadDiscreteInputsRequest{StartingAddress: address, Quantity: quantity}
	resp := &protocol.ReadDiscreteInputsResponse{}
	return m.readBits(ctx, slave, req, resp, &resp.Values, quantity)
}

// ReadHoldingRegistersBytes reads len(out)/2 holding registers into the
// caller's byte slice, leaving the register data in wire order.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.3 (Read Holding Registers)
func (m *Master) ReadHoldingRegistersBytes(ctx context.Context, slave common.UnitID, address uint16, out []byte) error {
	quantity := len(out) / 2
	assertf(len(out)%2 == 0, "modbus: register byte buffer length %d must be even", len(out))
	assertf(quantity >= 1 && quantity <= common.MaxReadRegisterCount,
		"modbus: read registers quantity %d out of range [1, %d]", quantity, common.MaxReadRegisterCount)

	req := &protocol.ReadHoldingRegistersRequest{StartingAddress: address, QuantityOfRegisters: uint16(quantity)}
	resp := &protocol.ReadHoldingRegistersResponse{Values: out}
	if _, err := m.roundTrip(ctx, slave, req, resp); err != nil {
		return err
	}
	if int(resp.ByteCount) != len(out) {
		return common.ErrInvalidResponse
	}
	return nil
}

// ReadHoldingRegisters reads len(out) holding registers into the caller's
// uint16 slice. A temporary byte buffer is decoded into and unpacked
// big-endian.
func (m *Master) ReadHoldingRegisters(ctx context.Context, slave common.UnitID, address uint16, out []uint16) error {
	buffer := make([]byte, 2*len(out))
	if err := m.ReadHoldingRegistersBytes(ctx, slave, address, buffer); err != nil {
		return err
	}
	unpackRegisters(buffer, out)
	return nil
}

// ReadInputRegistersBytes reads len(out)/2 input registers into the caller's
// byte slice.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.4 (Read Input Registers)
func (m *Master) ReadInputRegistersBytes(ctx context.Context, slave common.UnitID, address uint16, out []byte) error {
	quantity := len(out) / 2
	assertf(len(out)%2 == 0, "modbus: register byte buffer length %d must be even", len(out))
	assertf(quantity >= 1 && quantity <= common.MaxReadRegisterCount,
		"modbus: read registers quantity %d out of range [1, %d]", quantity, common.MaxReadRegisterCount)

	req := &protocol.ReadInputRegistersRequest{StartingAddress: address, QuantityOfRegisters: uint16(quantity)}
	resp := &protocol.ReadInputRegistersResponse{Values: out}
	if _, err := m.roundTrip(ctx, slave, req, resp); err != nil {
		return err
	}
	if int(resp.ByteCount) != len(out) {
		return common.ErrInvalidResponse
	}
	return nil
}

// ReadInputRegisters reads len(out) input registers into the caller's uint16
// slice.
func (m *Master) ReadInputRegisters(ctx context.Context, slave common.UnitID, address uint16, out []uint16) error {
	buffer := make([]byte, 2*len(out))
	if err := m.ReadInputRegistersBytes(ctx, slave, address, buffer); err != nil {
		return err
	}
	unpackRegisters(buffer, out)
	return nil
}

// WriteSingleCoil forces a single coil to ON or OFF.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.5 (Write Single Coil)
func (m *Master) WriteSingleCoil(ctx context.Context, slave common.UnitID, address uint16, value bool) error {
	wire := uint16(common.CoilOffU16)
	if value {
		wire = common.CoilOnU16
	}

	req := &protocol.WriteSingleCoilRequest{Address: address, Value: wire}
	resp := &protocol.WriteSingleCoilResponse{}
	ok, err := m.roundTrip(ctx, slave, req, resp)
	if err != nil || !ok {
		return err
	}
	// The normal response is an echo of the request.
	if resp.Address != address || resp.Value != wire {
		return common.ErrInvalidResponse
	}
	return nil
}

// WriteSingleRegister writes a single holding register.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.6 (Write Single Register)
func (m *Master) WriteSingleRegister(ctx context.Context, slave common.UnitID, address uint16, value uint16) error {
	req := &protocol.WriteSingleRegisterRequest{Address: address, Value: value}
	resp := &protocol.WriteSingleRegisterResponse{}
	ok, err := m.roundTrip(ctx, slave, req, resp)
	if err != nil || !ok {
		return err
	}
	if resp.Address != address || resp.Value != value {
		return common.ErrInvalidResponse
	}
	return nil
}

// WriteMultipleCoils writes one value per coil starting at address, packing
// the values into bitmask bytes, LSB of the first byte = first coil.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.11 (Write Multiple Coils)
func (m *Master) WriteMultipleCoils(ctx context.Context, slave common.UnitID, address uint16, values []bool) error {
	assertf(len(values) >= 1 && len(values) <= common.MaxWriteCoilCount,
		"modbus: write coils quantity %d out of range [1, %d]", len(values), common.MaxWriteCoilCount)

	req := &protocol.WriteMultipleCoilsRequest{
		StartingAddress: address,
		Quantity:        uint16(len(values)),
		Values:          packBits(values),
	}
	resp := &protocol.WriteMultipleCoilsResponse{}
	ok, err := m.roundTrip(ctx, slave, req, resp)
	if err != nil || !ok {
		return err
	}
	if resp.StartingAddress != address || int(resp.Quantity) != len(values) {
		return common.ErrInvalidResponse
	}
	return nil
}

// WriteMultipleRegisters writes a block of contiguous registers.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.12 (Write Multiple Registers)
func (m *Master) WriteMultipleRegisters(ctx context.Context, slave common.UnitID, address uint16, values []uint16) error {
	assertf(len(values) >= 1 && len(values) <= common.MaxWriteRegisterCount,
		"modbus: write registers quantity %d out of range [1, %d]", len(values), common.MaxWriteRegisterCount)

	req := &protocol.WriteMultipleRegistersRequest{StartingAddress: address, Values: values}
	resp := &protocol.WriteMultipleRegistersResponse{}
	ok, err := m.roundTrip(ctx, slave, req, resp)
	if err != nil || !ok {
		return err
	}
	if resp.StartingAddress != address || int(resp.Quantity) != len(values) {
		return common.ErrInvalidResponse
	}
	return nil
}

// ReadWriteMultipleRegisters writes the given registers and reads len(out)
// registers in a single transaction; the write happens before the read.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.17 (Read/Write Multiple Registers)
func (m *Master) ReadWriteMultipleRegisters(ctx context.Context, slave common.UnitID, readAddress uint16, out []uint16, writeAddress uint16, values []uint16) error {
	assertf(len(out) >= 1 && len(out) <= common.MaxReadRegisterCount,
		"modbus: read quantity %d out of range [1, %d]", len(out), common.MaxReadRegisterCount)
	assertf(len(values) >= 1 && len(values) <= common.MaxReadWriteWriteCount,
		"modbus: write quantity %d out of range [1, %d]", len(values), common.MaxReadWriteWriteCount)

	req := &protocol.ReadWriteMultipleRegistersRequest{
		ReadStartingAddress:  readAddress,
		ReadQuantity:         uint16(len(out)),
		WriteStartingAddress: writeAddress,
		WriteValues:          values,
	}
	buffer := make([]byte, 2*len(out))
	resp := &protocol.ReadWriteMultipleRegistersResponse{Values: buffer}
	ok, err := m.roundTrip(ctx, slave, req, resp)
	if err != nil || !ok {
		return err
	}
	if int(resp.ByteCount) != len(buffer) {
		return common.ErrInvalidResponse
	}
	unpackRegisters(buffer, out)
	return nil
}
