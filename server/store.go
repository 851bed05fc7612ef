package server

import (
	"context"
	"sync"

	"github.com/TAMON-TECHNOLOGY/mothbus/common"
)

// DataStore is the application-supplied data model behind a server: the four
// Modbus object classes with read/write access. The library never persists
// data itself.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 4.3 (Data Model)
type DataStore interface {
	// ReadCoils reads coil values from the data store
	ReadCoils(ctx context.Context, address common.Address, quantity common.Quantity) ([]common.CoilValue, error)

	// ReadDiscreteInputs reads discrete input values from the data store
	ReadDiscreteInputs(ctx context.Context, address common.Address, quantity common.Quantity) ([]common.DiscreteInputValue, error)

	// ReadHoldingRegisters reads holding register values from the data store
	ReadHoldingRegisters(ctx context.Context, address common.Address, quantity common.Quantity) ([]common.RegisterValue, error)

	// ReadInputRegisters reads input register values from the data store
	ReadInputRegisters(ctx context.Context, address common.Address, quantity common.Quantity) ([]common.InputRegisterValue, error)

	// WriteSingleCoil writes a single coil value to the data store
	WriteSingleCoil(ctx context.Context, address common.Address, value common.CoilValue) error

	// WriteSingleRegister writes a single register value to the data store
	WriteSingleRegister(ctx context.Context, address common.Address, value common.RegisterValue) error

	// WriteMultipleCoils writes multiple coil values to the data store
	WriteMultipleCoils(ctx context.Context, address common.Address, values []common.CoilValue) error

	// WriteMultipleRegisters writes multiple register values to the data store
	WriteMultipleRegisters(ctx context.Context, address common.Address, values []common.RegisterValue) error
}

// MemoryStore implements DataStore with fixed-size in-memory tables, so
// address-bounds violations are detectable and answered with the illegal
// data address exception. Access is internally synchronized; an application
// may seed or mutate the store from outside the serving goroutine.
type MemoryStore struct {
	mu               sync.RWMutex
	coils            []common.CoilValue
	discreteInputs   []common.DiscreteInputValue
	holdingRegisters []common.RegisterValue
	inputRegisters   []common.InputRegisterValue
}

// MemoryStoreOption is a function that configures a MemoryStore
type MemoryStoreOption func(*MemoryStore)

// WithCoils sets the number of coils
func WithCoils(n int) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.coils = make([]common.CoilValue, n)
	}
}

// WithDiscreteInputs sets the number of discrete inputs
func WithDiscreteInputs(n int) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.discreteInputs = make([]common.DiscreteInputValue, n)
	}
}

// WithHoldingRegisters sets the number of holding registers
func WithHoldingRegisters(n int) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.holdingRegisters = make([]common.RegisterValue, n)
	}
}

// WithInputRegisters sets the number of input registers
func WithInputRegisters(n int) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.inputRegisters = make([]common.InputRegisterValue, n)
	}
}

// DefaultStoreSize is the table size used when no option overrides it.
const DefaultStoreSize = 65536

// NewMemoryStore creates a memory-backed data store. Without options every
// table spans the full 16-bit address space.
func NewMemoryStore(options ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		coils:            make([]common.CoilValue, DefaultStoreSize),
		discreteInputs:   make([]common.DiscreteInputValue, DefaultStoreSize),
		holdingRegisters: make([]common.RegisterValue, DefaultStoreSize),
		inputRegisters:   make([]common.InputRegisterValue, DefaultStoreSize),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// inBounds reports whether [address, address+quantity) fits a table of the
// given size.
func inBounds(address common.Address, quantity common.Quantity, size int) bool {
	return int(address)+int(quantity) <= size
}

// ReadCoils reads coil values from the data store
func (s *MemoryStore) ReadCoils(ctx context.Context, address common.Address, quantity common.Quantity) ([]common.CoilValue, error) {
	if quantity == 0 {
		return nil, common.ErrInvalidQuantity
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !inBounds(address, quantity, len(s.coils)) {
		return nil, common.ErrInvalidAddress
	}
	values := make([]common.CoilValue, quantity)
	copy(values, s.coils[address:])
	return values, nil
}

// ReadDiscreteInputs reads discrete input values from the data store
func (s *MemoryStore) ReadDiscreteInputs(ctx context.Context, address common.Address, quantity common.Quantity) ([]common.DiscreteInputValue, error) {
	if quantity == 0 {
		return nil, common.ErrInvalidQuantity
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !inBounds(address, quantity, len(s.discreteInputs)) {
		return nil, common.ErrInvalidAddress
	}
	values := make([]common.DiscreteInputValue, quantity)
	copy(values, s.discreteInputs[address:])
	return values, nil
}

// ReadHoldingRegisters reads holding register values from the data store
func (s *MemoryStore) ReadHoldingRegisters(ctx context.Context, address common.Address, quantity common.Quantity) ([]common.RegisterValue, error) {
	if quantity == 0 {
		return nil, common.ErrInvalidQuantity
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !inBounds(address, quantity, len(s.holdingRegisters)) {
		return nil, common.ErrInvalidAddress
	}
	values := make([]common.RegisterValue, quantity)
	copy(values, s.holdingRegisters[address:])
	return values, nil
}

// ReadInputRegisters reads input register values from the data store
func (s *MemoryStore) ReadInputRegisters(ctx context.Context, address common.Address, quantity common.Quantity) ([]common.InputRegisterValue, error) {
	if quantity == 0 {
		return nil, common.ErrInvalidQuantity
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !inBounds(address, quantity, len(s.inputRegisters)) {
		return nil, common.ErrInvalidAddress
	}
	values := make([]common.InputRegisterValue, quantity)
	copy(values, s.inputRegisters[address:])
	return values, nil
}

// WriteSingleCoil writes a single coil value to the data store
func (s *MemoryStore) WriteSingleCoil(ctx context.Context, address common.Address, value common.CoilValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !inBounds(address, 1, len(s.coils)) {
		return common.ErrInvalidAddress
	}
	s.coils[address] = value
	return nil
}

// WriteSingleRegister writes a single register value to the data store
func (s *MemoryStore) WriteSingleRegister(ctx context.Context, address common.Address, value common.RegisterValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !inBounds(address, 1, len(s.holdingRegisters)) {
		return common.ErrInvalidAddress
	}
	s.holdingRegisters[address] = value
	return nil
}

// WriteMultipleCoils writes multiple coil values to the data store
func (s *MemoryStore) WriteMultipleCoils(ctx context.Context, address common.Address, values []common.CoilValue) error {
	if len(values) == 0 {
		return common.ErrInvalidQuantity
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !inBounds(address, common.Quantity(len(values)), len(s.coils)) {
		return common.ErrInvalidAddress
	}
	copy(s.coils[address:], values)
	return nil
}

// WriteMultipleRegisters writes multiple register values to the data store
func (s *MemoryStore) WriteMultipleRegisters(ctx context.Context, address common.Address, values []common.RegisterValue) error {
	if len(values) == 0 {
		return common.ErrInvalidQuantity
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !inBounds(address, common.Quantity(len(values)), len(s.holdingRegisters)) {
		return common.ErrInvalidAddress
	}
	copy(s.holdingRegisters[address:], values)
	return nil
}

// SetCoil seeds a coil value, for tests and application setup.
func (s *MemoryStore) SetCoil(address common.Address, value common.CoilValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coils[address] = value
}

// SetDiscreteInput seeds a discrete input value.
func (s *MemoryStore) SetDiscreteInput(address common.Address, value common.DiscreteInputValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discreteInputs[address] = value
}

// SetHoldingRegister seeds a holding register value.
func (s *MemoryStore) SetHoldingRegister(address common.Address, value common.RegisterValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holdingRegisters[address] = value
}

// SetInputRegister seeds an input register value.
func (s *MemoryStore) SetInputRegister(address common.Address, value common.InputRegisterValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputRegisters[address] = value
}
