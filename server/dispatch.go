package server

import (
	"context"
	"errors"

	"github.com/TAMON-TECHNOLOGY/mothbus/common"
	"github.com/TAMON-TECHNOLOGY/mothbus/logging"
	"github.com/TAMON-TECHNOLOGY/mothbus/protocol"
)

// HandlerFunc processes one typed request and returns the typed response.
// Returning a *common.ModbusError makes the server reply with the matching
// exception response; any other error is a server failure.
type HandlerFunc func(ctx context.Context, unit common.UnitID, req protocol.Request) (protocol.Response, error)

// Dispatcher routes each variant of the incoming-request sum to a handler.
// Default handlers back every recognized function code with a DataStore;
// SetHandler overrides individual function codes. NotImplemented requests
// answer with the illegal function exception.
type Dispatcher struct {
	logger   common.LoggerInterface
	store    DataStore
	handlers map[common.FunctionCode]HandlerFunc
}

// DispatcherOption is a function that configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger for the dispatcher
func WithDispatcherLogger(logger common.LoggerInterface) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a dispatcher whose default handlers serve the given
// data store.
func NewDispatcher(store DataStore, options ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		logger:   logging.NewNoopLogger(),
		store:    store,
		handlers: make(map[common.FunctionCode]HandlerFunc),
	}
	for _, option := range options {
		option(d)
	}
	return d
}

// SetHandler overrides the handler for one function code.
func (d *Dispatcher) SetHandler(fc common.FunctionCode, handler HandlerFunc) {
	d.handlers[fc] = handler
}

// storeError maps a data store failure onto the exception the request is
// answered with.
func storeError(fc common.FunctionCode, err error) error {
	switch {
	case errors.Is(err, common.ErrInvalidQuantity):
		return common.NewModbusError(fc, common.ExceptionIllegalDataValue)
	case errors.Is(err, common.ErrInvalidAddress):
		return common.NewModbusError(fc, common.ExceptionIllegalDataAddress)
	default:
		return common.NewModbusError(fc, common.ExceptionSlaveDeviceFailure)
	}
}

// Dispatch handles one decoded request and produces the response. The
// returned error is a *common.ModbusError when the reply must be an
// exception response.
func (d *Dispatcher) Dispatch(ctx context.Context, unit common.UnitID, req protocol.Request) (protocol.Response, error) {
	d.logger.Debug(ctx, "Dispatching request: unit=%d, function=%s", unit, req.FunctionCode())

	if handler, ok := d.handlers[req.FunctionCode()]; ok {
		return handler(ctx, unit, req)
	}

	switch r := req.(type) {
	case *protocol.ReadCoilsRequest:
		return d.handleReadCoils(ctx, r)
	case *protocol.ReadDiscreteInputsRequest:
		return d.handleReadDiscreteInputs(ctx, r)
	case *protocol.ReadHoldingRegistersRequest:
		return d.handleReadHoldingRegisters(ctx, r)
	case *protocol.ReadInputRegistersRequest:
		return d.handleReadInputRegisters(ctx, r)
	case *protocol.WriteSingleCoilRequest:
		return d.handleWriteSingleCoil(ctx, r)
	case *protocol.WriteSingleRegisterRequest:
		return d.handleWriteSingleRegister(ctx, r)
	case *protocol.WriteMultipleCoilsRequest:
		return d.handleWriteMultipleCoils(ctx, r)
	case *protocol.WriteMultipleRegistersRequest:
		return d.handleWriteMultipleRegisters(ctx, r)
	case *protocol.ReadWriteMultipleRegistersRequest:
		return d.handleReadWriteMultipleRegisters(ctx, r)
	default:
		return nil, common.NewModbusError(req.FunctionCode(), common.ExceptionIllegalFunction)
	}
}

// packBits packs bool values into bitmask bytes, LSB of the first byte being
// the lowest address.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.1 (Read Coils Response)
func packBits(values []bool) []byte {
	data := make([]byte, (len(values)+7)/8)
	for i, v := range values {
		if v {
			data[i/8] |= 1 << uint(i%8)
		}
	}
	return data
}

// packRegisters serializes register values big-endian, two bytes each.
func packRegisters(values []uint16) []byte {
	data := make([]byte, 2*len(values))
	for i, v := range values {
		data[2*i] = byte(v >> 8)
		data[2*i+1] = byte(v & 0xff)
	}
	return data
}

func (d *Dispatcher) handleReadCoils(ctx context.Context, req *protocol.ReadCoilsRequest) (protocol.Response, error) {
	if req.Quantity == 0 || req.Quantity > common.MaxReadCoilCount {
		return nil, common.NewModbusError(req.FunctionCode(), common.ExceptionIllegalDataValue)
	}
	values, err := d.store.ReadCoils(ctx, common.Address(req.StartingAddress), common.Quantity(req.Quantity))
	if err != nil {
		return nil, storeError(req.FunctionCode(), err)
	}
	return &protocol.ReadCoilsResponse{Values: packBits(values)}, nil
}

func (d *Dispatcher) handleReadDiscreteInputs(ctx context.Context, req *protocol.ReadDiscreteInputsRequest) (protocol.Response, error) {
	if req.Quantity == 0 || req.Quantity > common.MaxReadCoilCount {
		return nil, common.NewModbusError(req.FunctionCode(), common.ExceptionIllegalDataValue)
	}
	values, err := d.store.ReadDiscreteInputs(ctx, common.Address(req.StartingAddress), common.Quantity(req.Quantity))
	if err != nil {
		return nil, storeError(req.FunctionCode(), err)
	}
	return &protocol.ReadDiscreteInputsResponse{Values: packBits(values)}, nil
}

// handleReadHoldingRegisters validates the quantity range first, then the
// address bounds, so an oversized quantity answers illegal data value even
// when the address would also be out of range.
func (d *Dispatcher) handleReadHoldingRegisters(ctx context.Context, req *protocol.ReadHoldingRegistersRequest) (protocol.Response, error) {
	if req.QuantityOfRegisters == 0 || req.QuantityOfRegisters > common.MaxReadRegisterCount {
		return nil, common.NewModbusError(req.FunctionCode(), common.ExceptionIllegalDataValue)
	}
	values, err := d.store.ReadHoldingRegisters(ctx, common.Address(req.StartingAddress), common.Quantity(req.QuantityOfRegisters))
	if err != nil {
		return nil, storeError(req.FunctionCode(), err)
	}
	return &protocol.ReadHoldingRegistersResponse{Values: packRegisters(values)}, nil
}

func (d *Dispatcher) handleReadInputRegisters(ctx context.Context, req *protocol.ReadInputRegistersRequest) (protocol.Response, error) {
	if req.QuantityOfRegisters == 0 || req.QuantityOfRegisters > common.MaxReadRegisterCount {
		return nil, common.NewModbusError(req.FunctionCode(), common.ExceptionIllegalDataValue)
	}
	values, err := d.store.ReadInputRegisters(ctx, common.Address(req.StartingAddress), common.Quantity(req.QuantityOfRegisters))
	if err != nil {
		return nil, storeError(req.FunctionCode(), err)
	}
	return &protocol.ReadInputRegistersResponse{Values: packRegisters(values)}, nil
}

func (d *Dispatcher) handleWriteSingleCoil(ctx context.Context, req *protocol.WriteSingleCoilRequest) (protocol.Response, error) {
	// The codec already rejected values other than 0x0000 and 0xFF00.
	value := req.Value == common.CoilOnU16
	if err := d.store.WriteSingleCoil(ctx, common.Address(req.Address), value); err != nil {
		return nil, storeError(req.FunctionCode(), err)
	}
	// The normal response is an echo of the request.
	return &protocol.WriteSingleCoilResponse{Address: req.Address, Value: req.Value}, nil
}

func (d *Dispatcher) handleWriteSingleRegister(ctx context.Context, req *protocol.WriteSingleRegisterRequest) (protocol.Response, error) {
	if err := d.store.WriteSingleRegister(ctx, common.Address(req.Address), req.Value); err != nil {
		return nil, storeError(req.FunctionCode(), err)
	}
	return &protocol.WriteSingleRegisterResponse{Address: req.Address, Value: req.Value}, nil
}

func (d *Dispatcher) handleWriteMultipleCoils(ctx context.Context, req *protocol.WriteMultipleCoilsRequest) (protocol.Response, error) {
	if req.Quantity == 0 || req.Quantity > common.MaxWriteCoilCount {
		return nil, common.NewModbusError(req.FunctionCode(), common.ExceptionIllegalDataValue)
	}
	values := make([]common.CoilValue, req.Quantity)
	for i := range values {
		values[i] = req.Values[i/8]&(1<<uint(i%8)) != 0
	}
	if err := d.store.WriteMultipleCoils(ctx, common.Address(req.StartingAddress), values); err != nil {
		return nil, storeError(req.FunctionCode(), err)
	}
	return &protocol.WriteMultipleCoilsResponse{StartingAddress: req.StartingAddress, Quantity: req.Quantity}, nil
}

func (d *Dispatcher) handleWriteMultipleRegisters(ctx context.Context, req *protocol.WriteMultipleRegistersRequest) (protocol.Response, error) {
	quantity := len(req.Values)
	if quantity == 0 || quantity > common.MaxWriteRegisterCount {
		return nil, common.NewModbusError(req.FunctionCode(), common.ExceptionIllegalDataValue)
	}
	if err := d.store.WriteMultipleRegisters(ctx, common.Address(req.StartingAddress), req.Values); err != nil {
		return nil, storeError(req.FunctionCode(), err)
	}
	return &protocol.WriteMultipleRegistersResponse{
		StartingAddress: req.StartingAddress,
		Quantity:        uint16(quantity),
	}, nil
}

// handleReadWriteMultipleRegisters performs the write before the read.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.17
// "The write operation is performed before the read."
func (d *Dispatcher) handleReadWriteMultipleRegisters(ctx context.Context, req *protocol.ReadWriteMultipleRegistersRequest) (protocol.Response, error) {
	writeQuantity := len(req.WriteValues)
	if req.ReadQuantity == 0 || req.ReadQuantity > common.MaxReadRegisterCount ||
		writeQuantity == 0 || writeQuantity > common.MaxReadWriteWriteCount {
		return nil, common.NewModbusError(req.FunctionCode(), common.ExceptionIllegalDataValue)
	}
	if err := d.store.WriteMultipleRegisters(ctx, common.Address(req.WriteStartingAddress), req.WriteValues); err != nil {
		return nil, storeError(req.FunctionCode(), err)
	}
	values, err := d.store.ReadHoldingRegisters(ctx, common.Address(req.ReadStartingAddress), common.Quantity(req.ReadQuantity))
	if err != nil {
		return nil, storeError(req.FunctionCode(), err)
	}
	return &protocol.ReadWriteMultipleRegistersResponse{Values: packRegisters(values)}, nil
}
