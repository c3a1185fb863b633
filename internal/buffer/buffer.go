// Package buffer provides the growable byte FIFO underlying the wire
// protocol: integer packing for outbound payloads and SLIP frame
// extraction for the inbound stream.
package buffer

import (
	"encoding/binary"
	"fmt"

	"github.com/bigbag/esp-loader/internal/slip"
)

// Buffer is a growable byte FIFO with independent read and write offsets.
type Buffer struct {
	data        []byte
	readOffset  int
	writeOffset int
}

// New creates a Buffer with the given initial capacity, raised to 16
// bytes when smaller.
func New(capacity int) *Buffer {
	if capacity < 16 {
		capacity = 16
	}
	return &Buffer{data: make([]byte, capacity)}
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int {
	return b.writeOffset - b.readOffset
}

// grow makes room for n more bytes at the write offset.
func (b *Buffer) grow(n int) {
	if b.writeOffset+n <= len(b.data) {
		return
	}
	needed := b.writeOffset + n
	newLen := 2 * len(b.data)
	if newLen < needed {
		newLen = needed
	}
	data := make([]byte, newLen)
	copy(data, b.data[:b.writeOffset])
	b.data = data
}

// WriteByte appends a single byte.
func (b *Buffer) WriteByte(c byte) {
	b.grow(1)
	b.data[b.writeOffset] = c
	b.writeOffset++
}

// Write appends p.
func (b *Buffer) Write(p []byte) {
	b.grow(len(p))
	copy(b.data[b.writeOffset:], p)
	b.writeOffset += len(p)
}

// Fill appends n copies of c.
func (b *Buffer) Fill(c byte, n int) {
	b.grow(n)
	for i := 0; i < n; i++ {
		b.data[b.writeOffset+i] = c
	}
	b.writeOffset += n
}

// Pack appends integers per format. '<' and '>' select little and big
// endianness (little is the default), 'B', 'H' and 'I' encode 1, 2 and
// 4 byte unsigned integers. The argument count must match the format.
func (b *Buffer) Pack(format string, args ...uint32) error {
	enc, err := packBytes(format, args)
	if err != nil {
		return err
	}
	b.Write(enc)
	return nil
}

// View returns the unread bytes without copying. The slice is
// invalidated by the next Reset or write.
func (b *Buffer) View() []byte {
	return b.data[b.readOffset:b.writeOffset]
}

// Reset discards all buffered bytes.
func (b *Buffer) Reset() {
	b.readOffset = 0
	b.writeOffset = 0
}

// Packet scans the unread region for a complete SLIP frame. It returns
// the bytes strictly between the first pair of END delimiters and
// advances the read offset past the closing delimiter. When slipDecode
// is set the returned bytes are unescaped in place. Returns false when
// no complete frame is buffered.
func (b *Buffer) Packet(slipDecode bool) ([]byte, bool) {
	start := -1
	for i := b.readOffset; i < b.writeOffset; i++ {
		if b.data[i] == slip.End {
			start = i
			break
		}
	}
	if start == -1 {
		return nil, false
	}

	end := -1
	for i := start + 1; i < b.writeOffset; i++ {
		if b.data[i] == slip.End {
			end = i
			break
		}
	}
	if end == -1 {
		return nil, false
	}

	pkt := b.data[start+1 : end]
	b.readOffset = end + 1
	if slipDecode {
		pkt = slip.Unescape(pkt)
	}
	return pkt, true
}

func packBytes(format string, args []uint32) ([]byte, error) {
	var order binary.AppendByteOrder = binary.LittleEndian
	out := make([]byte, 0, 4*len(args))
	argIndex := 0
	for _, f := range format {
		switch f {
		case '<':
			order = binary.LittleEndian
		case '>':
			order = binary.BigEndian
		case 'B':
			if argIndex >= len(args) {
				return nil, fmt.Errorf("pack %q: not enough arguments", format)
			}
			out = append(out, byte(args[argIndex]))
			argIndex++
		case 'H':
			if argIndex >= len(args) {
				return nil, fmt.Errorf("pack %q: not enough arguments", format)
			}
			out = order.AppendUint16(out, uint16(args[argIndex]))
			argIndex++
		case 'I':
			if argIndex >= len(args) {
				return nil, fmt.Errorf("pack %q: not enough arguments", format)
			}
			out = order.AppendUint32(out, args[argIndex])
			argIndex++
		default:
			return nil, fmt.Errorf("pack %q: unknown format character %q", format, f)
		}
	}
	if argIndex != len(args) {
		return nil, fmt.Errorf("pack %q: %d arguments left over", format, len(args)-argIndex)
	}
	return out, nil
}
