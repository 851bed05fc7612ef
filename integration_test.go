package mothbus

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/TAMON-TECHNOLOGY/mothbus/client"
	"github.com/TAMON-TECHNOLOGY/mothbus/common"
	"github.com/TAMON-TECHNOLOGY/mothbus/server"
	"github.com/TAMON-TECHNOLOGY/mothbus/transport"
)

// TestClientServerIntegration drives a real TCP client against a real TCP
// server over the loopback interface.
func TestClientServerIntegration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := server.NewMemoryStore(
		server.WithCoils(4096),
		server.WithDiscreteInputs(4096),
		server.WithHoldingRegisters(4096),
		server.WithInputRegisters(4096),
	)

	store.SetCoil(1000, true)
	store.SetCoil(1001, false)
	store.SetCoil(1002, true)
	store.SetHoldingRegister(2000, 0x1234)
	store.SetHoldingRegister(2001, 0x5678)
	store.SetInputRegister(3000, 0xABCD)
	store.SetInputRegister(3001, 0xEF01)

	srv := server.NewTCPServer("127.0.0.1", store, server.WithServerPort(0))
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer srv.Stop(context.Background())

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", srv.Port()))
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	master := client.NewMaster(transport.NewTCPStream(conn))
	unit := common.UnitID(1)

	// Coils
	coils, err := master.ReadCoils(ctx, unit, 1000, 3)
	if err != nil {
		t.Fatalf("ReadCoils failed: %v", err)
	}
	expectedCoils := []bool{true, false, true}
	for i, expected := range expectedCoils {
		if coils[i] != expected {
			t.Errorf("coil %d: expected %t, got %t", 1000+i, expected, coils[i])
		}
	}

	// Holding registers
	holding := make([]uint16, 2)
	if err := master.ReadHoldingRegisters(ctx, unit, 2000, holding); err != nil {
		t.Fatalf("ReadHoldingRegisters failed: %v", err)
	}
	if holding[0] != 0x1234 || holding[1] != 0x5678 {
		t.Errorf("holding registers: got %04X %04X", holding[0], holding[1])
	}

	// Input registers
	input := make([]uint16, 2)
	if err := master.ReadInputRegisters(ctx, unit, 3000, input); err != nil {
		t.Fatalf("ReadInputRegisters failed: %v", err)
	}
	if input[0] != 0xABCD || input[1] != 0xEF01 {
		t.Errorf("input registers: got %04X %04X", input[0], input[1])
	}

	// Write single register, read back
	if err := master.WriteSingleRegister(ctx, unit, 100, 0x0BAD); err != nil {
		t.Fatalf("WriteSingleRegister failed: %v", err)
	}
	readBack := make([]uint16, 1)
	if err := master.ReadHoldingRegisters(ctx, unit, 100, readBack); err != nil {
		t.Fatalf("ReadHoldingRegisters failed: %v", err)
	}
	if readBack[0] != 0x0BAD {
		t.Errorf("register 100: expected 0x0BAD, got 0x%04X", readBack[0])
	}

	// Write multiple coils, read back
	pattern := []bool{true, false, true, true, false, true, false, false, true}
	if err := master.WriteMultipleCoils(ctx, unit, 200, pattern); err != nil {
		t.Fatalf("WriteMultipleCoils failed: %v", err)
	}
	coils, err = master.ReadCoils(ctx, unit, 200, uint16(len(pattern)))
	if err != nil {
		t.Fatalf("ReadCoils failed: %v", err)
	}
	for i, expected := range pattern {
		if coils[i] != expected {
			t.Errorf("coil %d: expected %t, got %t", 200+i, expected, coils[i])
		}
	}

	// Write multiple registers, read back
	registers := []uint16{0x000A, 0x0102, 0xFFFF}
	if err := master.WriteMultipleRegisters(ctx, unit, 300, registers); err != nil {
		t.Fatalf("WriteMultipleRegisters failed: %v", err)
	}
	got := make([]uint16, len(registers))
	if err := master.ReadHoldingRegisters(ctx, unit, 300, got); err != nil {
		t.Fatalf("ReadHoldingRegisters failed: %v", err)
	}
	for i, expected := range registers {
		if got[i] != expected {
			t.Errorf("register %d: expected 0x%04X, got 0x%04X", 300+i, expected, got[i])
		}
	}

	// Combined read/write in one transaction
	out := make([]uint16, 2)
	if err := master.ReadWriteMultipleRegisters(ctx, unit, 300, out, 300, []uint16{0x1111, 0x2222}); err != nil {
		t.Fatalf("ReadWriteMultipleRegisters failed: %v", err)
	}
	if out[0] != 0x1111 || out[1] != 0x2222 {
		t.Errorf("read/write registers: got %04X %04X", out[0], out[1])
	}

	// Write single coil
	if err := master.WriteSingleCoil(ctx, unit, 50, true); err != nil {
		t.Fatalf("WriteSingleCoil failed: %v", err)
	}
	coils, err = master.ReadCoils(ctx, unit, 50, 1)
	if err != nil {
		t.Fatalf("ReadCoils failed: %v", err)
	}
	if !coils[0] {
		t.Error("coil 50 should be on")
	}

	// Discrete inputs default to off
	inputs, err := master.ReadDiscreteInputs(ctx, unit, 0, 8)
	if err != nil {
		t.Fatalf("ReadDiscreteInputs failed: %v", err)
	}
	for i, v := range inputs {
		if v {
			t.Errorf("discrete input %d: expected off", i)
		}
	}

	// Out-of-bounds address answers with an exception response.
	err = master.ReadHoldingRegisters(ctx, unit, 4090, make([]uint16, 10))
	if !common.IsExceptionError(err, common.ExceptionIllegalDataAddress) {
		t.Errorf("expected illegal data address exception, got %v", err)
	}
}

// TestServerSurvivesExceptions verifies a handler failure answers with an
// exception response and the connection keeps serving.
func TestServerSurvivesExceptions(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := server.NewMemoryStore(server.WithHoldingRegisters(10))
	srv := server.NewTCPServer("127.0.0.1", store, server.WithServerPort(0))
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer srv.Stop(context.Background())

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", srv.Port()))
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	master := client.NewMaster(transport.NewTCPStream(conn))
	unit := common.UnitID(1)

	// First request fails with an exception.
	err = master.ReadHoldingRegisters(ctx, unit, 5, make([]uint16, 10))
	if !common.IsExceptionError(err, common.ExceptionIllegalDataAddress) {
		t.Fatalf("expected illegal data address exception, got %v", err)
	}

	// The same connection still serves the next request.
	values := make([]uint16, 2)
	if err := master.ReadHoldingRegisters(ctx, unit, 0, values); err != nil {
		t.Fatalf("connection should survive an exception, got %v", err)
	}
}
