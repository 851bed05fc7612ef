package protocol

import (
	"github.com/TAMON-TECHNOLOGY/mothbus/common"
)

// Buffer is a bounded scratch area used for one encode or one decode of an
// ADU. It keeps an input cursor pair (inputStart, inputEnd) for reading and
// an output cursor (outputStart) for writing. Bytes received from the
// transport are placed via Prepare/Commit; bytes to be transmitted are
// placed via Put and collected with Bytes.
//
// The buffer is not a ring. A session resets the cursors between PDUs.
type Buffer struct {
	data        []byte
	inputStart  int
	inputEnd    int
	outputStart int
}

// NewBuffer creates a buffer with the given capacity.
// A capacity of common.MaxTCPADULength covers any Modbus ADU.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

// NewBufferBytes wraps an existing byte slice. The slice contents become the
// buffer's storage; no bytes are readable until Commit is called.
func NewBufferBytes(data []byte) *Buffer {
	return &Buffer{data: data}
}

// NewReadBuffer wraps received bytes so they are immediately readable.
// Shorthand for wrapping and committing the full slice.
func NewReadBuffer(data []byte) *Buffer {
	return &Buffer{data: data, inputEnd: len(data), outputStart: len(data)}
}

// Reset rewinds all cursors so the buffer can frame the next PDU.
func (b *Buffer) Reset() {
	b.inputStart = 0
	b.inputEnd = 0
	b.outputStart = 0
}

// Put writes a single byte at the output cursor.
func (b *Buffer) Put(v byte) error {
	if b.outputStart >= len(b.data) {
		return common.ErrRequestTooBig
	}
	b.data[b.outputStart] = v
	b.outputStart++
	return nil
}

// Get reads a single byte at the input cursor.
func (b *Buffer) Get() (byte, error) {
	if b.inputStart >= b.inputEnd {
		return 0, common.ErrTooManyBytesReceived
	}
	v := b.data[b.inputStart]
	b.inputStart++
	return v, nil
}

// PutUint16 writes a 16-bit value big-endian, most significant byte first.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 4.3 (Data Encoding)
func (b *Buffer) PutUint16(v uint16) error {
	if err := b.Put(byte(v >> 8)); err != nil {
		return err
	}
	return b.Put(byte(v & 0xff))
}

// GetUint16 reads a big-endian 16-bit value.
func (b *Buffer) GetUint16() (uint16, error) {
	hi, err := b.Get()
	if err != nil {
		return 0, err
	}
	lo, err := b.Get()
	if err != nil {
		return 0, err
	}
	return uint16(hi)<<8 | uint16(lo), nil
}

// PutBytes writes a byte span verbatim.
func (b *Buffer) PutBytes(p []byte) error {
	for _, v := range p {
		if err := b.Put(v); err != nil {
			return err
		}
	}
	return nil
}

// GetBytes fills p from the input cursor.
func (b *Buffer) GetBytes(p []byte) error {
	for i := range p {
		v, err := b.Get()
		if err != nil {
			return err
		}
		p[i] = v
	}
	return nil
}

// Prepare reserves n writable bytes at the output cursor, for handing to a
// reader. The caller must Commit what was actually written.
func (b *Buffer) Prepare(n int) ([]byte, error) {
	if b.outputStart+n > len(b.data) {
		return nil, common.ErrRequestTooBig
	}
	return b.data[b.outputStart : b.outputStart+n], nil
}

// Commit marks n bytes written into the Prepared region as readable,
// advancing both the input end and the output cursor.
func (b *Buffer) Commit(n int) {
	b.inputEnd += n
	b.outputStart += n
}

// Consume drops n already-read bytes by advancing the input cursor.
func (b *Buffer) Consume(n int) {
	b.inputStart += n
}

// PatchUint16 overwrites two bytes at an absolute offset without moving any
// cursor. Used to backpatch the MBAP length field after the PDU is encoded.
func (b *Buffer) PatchUint16(offset int, v uint16) {
	b.data[offset] = byte(v >> 8)
	b.data[offset+1] = byte(v & 0xff)
}

// Bytes returns the span written so far.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.outputStart]
}

// Data returns the readable span.
func (b *Buffer) Data() []byte {
	return b.data[b.inputStart:b.inputEnd]
}

// Len returns the number of readable bytes remaining.
func (b *Buffer) Len() int {
	return b.inputEnd - b.inputStart
}

// OutputLen returns the number of bytes written so far.
func (b *Buffer) OutputLen() int {
	return b.outputStart
}
