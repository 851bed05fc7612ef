package common

import (
	"errors"
	"fmt"
)

// Local errors. These are never sent over the wire; they are surfaced to the
// caller so it can decide whether to retry or tear the connection down.
var (
	// Framing errors
	// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 4.1 (MBAP Header)
	ErrInvalidResponse      = errors.New("invalid response")
	ErrTooManyBytesReceived = errors.New("too many bytes received")
	ErrTransactionIDInvalid = errors.New("transaction id invalid")
	ErrIllegalProtocol      = errors.New("illegal protocol identifier")
	ErrSlaveIDInvalid       = errors.New("slave id invalid")
	ErrRequestTooBig        = errors.New("request too big")
	ErrInvalidCRC           = errors.New("invalid CRC")

	// Transport errors
	ErrTimeout       = errors.New("timeout")
	ErrProtocolError = errors.New("protocol error")

	// Data store errors, mapped by server handlers onto the matching
	// exception codes
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrInvalidAddress  = errors.New("invalid address")
)

// ModbusError represents an error from a Modbus exception response
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 7 (Exception Responses)
// "If the Server returns an Exception Response, the Exception Code field
// contains the reason why the Server is unable to process the requested
// function."
type ModbusError struct {
	FunctionCode  FunctionCode  // Function code from the request
	ExceptionCode ExceptionCode // Exception code indicating the error reason
}

// Error implements the error interface
func (e *ModbusError) Error() string {
	return fmt.Sprintf("modbus: exception response: function: %s, exception code: %#x (%s)",
		e.FunctionCode, byte(e.ExceptionCode), GetExceptionString(e.ExceptionCode))
}

// NewModbusError creates a new ModbusError
func NewModbusError(functionCode FunctionCode, exceptionCode ExceptionCode) *ModbusError {
	return &ModbusError{
		FunctionCode:  functionCode,
		ExceptionCode: exceptionCode,
	}
}

// IsModbusError checks if an error is a ModbusError
func IsModbusError(err error) bool {
	var modbusErr *ModbusError
	return errors.As(err, &modbusErr)
}

// IsExceptionError checks if an error is a specific Modbus exception
func IsExceptionError(err error, exceptionCode ExceptionCode) bool {
	var modbusErr *ModbusError
	if errors.As(err, &modbusErr) {
		return modbusErr.ExceptionCode == exceptionCode
	}
	return false
}

// GetExceptionString returns a human-readable description of an exception code
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 7 (Exception Responses)
func GetExceptionString(exceptionCode ExceptionCode) string {
	switch exceptionCode {
	case ExceptionIllegalFunction:
		return "illegal function"
	case ExceptionIllegalDataAddress:
		return "illegal data address"
	case ExceptionIllegalDataValue:
		return "illegal data value"
	case ExceptionSlaveDeviceFailure:
		return "slave device failure"
	case ExceptionAcknowledge:
		return "acknowledge"
	case ExceptionSlaveDeviceBusy:
		return "slave device busy"
	case ExceptionNegativeAcknowledge:
		return "negative acknowledge"
	case ExceptionMemoryParityError:
		return "memory parity error"
	case ExceptionGatewayPathUnavailable:
		return "gateway path unavailable"
	case ExceptionGatewayTargetFailed:
		return "gateway target device failed to respond"
	default:
		return fmt.Sprintf("unknown exception code: %#x", byte(exceptionCode))
	}
}
