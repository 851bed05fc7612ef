package server

import (
	"context"
	"errors"
	"testing"

	"github.com/TAMON-TECHNOLOGY/mothbus/common"
)

func TestMemoryStoreReadWriteRegisters(t *testing.T) {
	store := NewMemoryStore(WithHoldingRegisters(100))
	ctx := context.Background()

	if err := store.WriteMultipleRegisters(ctx, 10, []uint16{1, 2, 3}); err != nil {
		t.Fatalf("WriteMultipleRegisters returned error: %v", err)
	}

	values, err := store.ReadHoldingRegisters(ctx, 10, 3)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters returned error: %v", err)
	}
	for i, expected := range []uint16{1, 2, 3} {
		if values[i] != expected {
			t.Errorf("register %d: expected %d, got %d", 10+i, expected, values[i])
		}
	}
}

func TestMemoryStoreBounds(t *testing.T) {
	store := NewMemoryStore(WithHoldingRegisters(100), WithCoils(50))
	ctx := context.Background()

	if _, err := store.ReadHoldingRegisters(ctx, 90, 11); !errors.Is(err, common.ErrInvalidAddress) {
		t.Errorf("read past end: expected ErrInvalidAddress, got %v", err)
	}
	if _, err := store.ReadHoldingRegisters(ctx, 90, 10); err != nil {
		t.Errorf("read at end: expected success, got %v", err)
	}
	if err := store.WriteSingleCoil(ctx, 50, true); !errors.Is(err, common.ErrInvalidAddress) {
		t.Errorf("write past end: expected ErrInvalidAddress, got %v", err)
	}
	if _, err := store.ReadCoils(ctx, 0, 0); !errors.Is(err, common.ErrInvalidQuantity) {
		t.Errorf("zero quantity: expected ErrInvalidQuantity, got %v", err)
	}
}

func TestMemoryStoreDefaultsZero(t *testing.T) {
	store := NewMemoryStore(WithInputRegisters(10), WithDiscreteInputs(10))
	ctx := context.Background()

	registers, err := store.ReadInputRegisters(ctx, 0, 10)
	if err != nil {
		t.Fatalf("ReadInputRegisters returned error: %v", err)
	}
	for i, v := range registers {
		if v != 0 {
			t.Errorf("input register %d: expected 0, got %d", i, v)
		}
	}

	inputs, err := store.ReadDiscreteInputs(ctx, 0, 10)
	if err != nil {
		t.Fatalf("ReadDiscreteInputs returned error: %v", err)
	}
	for i, v := range inputs {
		if v {
			t.Errorf("discrete input %d: expected off", i)
		}
	}
}

func TestMemoryStoreSeeding(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.SetCoil(1000, true)
	store.SetDiscreteInput(1001, true)
	store.SetHoldingRegister(2000, 0x1234)
	store.SetInputRegister(3000, 0xABCD)

	coils, _ := store.ReadCoils(ctx, 1000, 1)
	if !coils[0] {
		t.Error("coil 1000 should be on")
	}
	inputs, _ := store.ReadDiscreteInputs(ctx, 1001, 1)
	if !inputs[0] {
		t.Error("discrete input 1001 should be on")
	}
	holding, _ := store.ReadHoldingRegisters(ctx, 2000, 1)
	if holding[0] != 0x1234 {
		t.Errorf("holding register 2000: expected 0x1234, got 0x%04X", holding[0])
	}
	input, _ := store.ReadInputRegisters(ctx, 3000, 1)
	if input[0] != 0xABCD {
		t.Errorf("input register 3000: expected 0xABCD, got 0x%04X", input[0])
	}
}
