package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/bigbag/esp-loader/internal/buffer"
	"github.com/bigbag/esp-loader/internal/slip"
)

// Request represents an outbound bootloader command packet.
type Request struct {
	Command  byte
	Data     []byte
	Checksum uint32
}

// NewRequest creates a request with a zero checksum field, the form
// used by every command except FLASH_DATA and MEM_DATA.
func NewRequest(cmd byte, data []byte) *Request {
	return &Request{Command: cmd, Data: data}
}

// NewDataRequest creates a request for a data-carrying command whose
// checksum field is the XOR of the block bytes.
func NewDataRequest(cmd byte, data, block []byte) *Request {
	return &Request{Command: cmd, Data: data, Checksum: Checksum(block)}
}

// Frame serializes the request as a complete SLIP frame:
//
//	0xC0 | 0x00 | cmd | u16_le len | u32_le checksum | data | 0xC0
//
// The frame interior is SLIP-escaped.
func (r *Request) Frame() []byte {
	w := buffer.NewSlipWriter()
	w.WriteByte(slip.End)
	w.Escape(true)
	w.Pack("<BBHI", DirRequest, uint32(r.Command), uint32(len(r.Data)), r.Checksum)
	w.Write(r.Data)
	w.Escape(false)
	w.WriteByte(slip.End)
	return w.Bytes()
}

// Response represents an inbound bootloader response packet.
type Response struct {
	Command byte
	Value   uint32
	Data    []byte
}

// ParseResponse parses a response from the interior of a SLIP frame.
func ParseResponse(body []byte) (*Response, error) {
	if len(body) < 8 {
		return nil, fmt.Errorf("response too short: %d bytes", len(body))
	}
	if body[0] != DirResponse {
		return nil, fmt.Errorf("invalid direction byte: 0x%02X", body[0])
	}

	resp := &Response{
		Command: body[1],
		Value:   binary.LittleEndian.Uint32(body[4:8]),
	}
	if len(body) > 8 {
		resp.Data = body[8 : len(body)-1]
	}
	return resp, nil
}

// Result returns the response payload: the data section when it is
// longer than four bytes, the value word otherwise.
func (r *Response) Result() []byte {
	if len(r.Data) > 4 {
		return r.Data
	}
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, r.Value)
	return out
}
