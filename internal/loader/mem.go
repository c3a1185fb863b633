package loader

import (
	"fmt"

	"github.com/bigbag/esp-loader/embedded"
	"github.com/bigbag/esp-loader/internal/buffer"
	"github.com/bigbag/esp-loader/internal/protocol"
)

// Stub is a RAM-resident loader program: two segments and an entry
// point. The binary itself is produced elsewhere.
type Stub struct {
	Text      []byte
	TextStart uint32
	Data      []byte
	DataStart uint32
	Entry     uint32
}

func (s *Stub) ranges() []memRange {
	return []memRange{
		{s.TextStart, s.TextStart + uint32(len(s.Text))},
		{s.DataStart, s.DataStart + uint32(len(s.Data))},
	}
}

type memRange struct {
	start, end uint32
}

func (a memRange) overlaps(b memRange) bool {
	return a.start < b.end && b.start < a.end
}

// DefaultStub returns the built-in stub for the chip family. Only the
// ESP32 ships with one.
func DefaultStub(family protocol.ChipFamily) (*Stub, error) {
	if family != protocol.ChipESP32 {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedChipFamily, family)
	}
	return &Stub{
		Text:      embedded.ESP32StubText(),
		TextStart: embedded.ESP32StubTextStart,
		Data:      embedded.ESP32StubData(),
		DataStart: embedded.ESP32StubDataStart,
		Entry:     embedded.ESP32StubEntry,
	}, nil
}

// MemBegin announces an upcoming RAM download. When the stub is
// running, loads that would overwrite the stub itself are refused.
func (l *Loader) MemBegin(size, blocks, blockSize int, offset uint32) error {
	if l.isStub && l.stub != nil {
		load := memRange{offset, offset + uint32(size)}
		for _, r := range l.stub.ranges() {
			if load.overlaps(r) {
				return fmt.Errorf("%w: load 0x%08X..0x%08X", ErrStubOverlap, load.start, load.end)
			}
		}
	}
	b := buffer.New(16)
	b.Pack("<IIII", uint32(size), uint32(blocks), uint32(blockSize), offset)
	_, err := l.checkCommand(protocol.CmdMemBegin, b.View(), 0, protocol.DefaultTimeout)
	return err
}

// MemBlock downloads one block of RAM data.
func (l *Loader) MemBlock(data []byte, seq int) error {
	b := buffer.New(16 + len(data))
	b.Pack("<IIII", uint32(len(data)), uint32(seq), 0, 0)
	b.Write(data)
	_, err := l.checkCommand(protocol.CmdMemData, b.View(), protocol.Checksum(data), protocol.DefaultTimeout)
	return err
}

// MemFinish ends a RAM download, jumping to entry when it is nonzero.
// The ROM frequently jumps before replying, so under ROM a missing or
// garbled reply is not an error; under the stub it is.
func (l *Loader) MemFinish(entry uint32) error {
	flag := uint32(0)
	if entry == 0 {
		flag = 1
	}
	b := buffer.New(8)
	b.Pack("<II", flag, entry)
	_, err := l.checkCommand(protocol.CmdMemEnd, b.View(), 0, protocol.MemEndTimeout)
	if err != nil && !l.isStub {
		l.debugf("mem end reply missing, ignored under ROM: %v", err)
		return nil
	}
	return err
}

// LoadStub uploads a stub into RAM and starts it. A nil stub selects
// the built-in one for the detected chip family. On success the
// loader speaks to the stub, and the chip identity caches are cleared
// because the stub changes register semantics.
func (l *Loader) LoadStub(stub *Stub) error {
	if l.isStub {
		return fmt.Errorf("stub already running")
	}

	if stub == nil {
		family, err := l.ChipFamily()
		if err != nil {
			return err
		}
		stub, err = DefaultStub(family)
		if err != nil {
			return err
		}
	}

	segments := []struct {
		name string
		data []byte
		addr uint32
	}{
		{"text", stub.Text, stub.TextStart},
		{"data", stub.Data, stub.DataStart},
	}
	for _, seg := range segments {
		if len(seg.data) == 0 {
			continue
		}
		if err := l.loadRAM(seg.data, seg.addr); err != nil {
			return fmt.Errorf("stub %s segment failed: %w", seg.name, err)
		}
	}

	// Keep listening across the jump so the stub's greeting is not
	// dropped between MEM_END's reply and our next read.
	unlisten, err := l.reader.Listen()
	if err != nil {
		return err
	}
	defer unlisten()

	if err := l.MemFinish(stub.Entry); err != nil {
		return err
	}

	pkt, err := l.reader.Packet(4, protocol.DefaultTimeout)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStubStartFailed, err)
	}
	if string(pkt) != "OHAI" {
		return fmt.Errorf("%w: unexpected greeting % X", ErrStubStartFailed, pkt)
	}

	l.isStub = true
	l.chipFamily = protocol.ChipUnknown
	l.efusesValid = false
	l.stub = stub
	l.debugf("stub running, entry 0x%08X", stub.Entry)
	return nil
}

func (l *Loader) loadRAM(data []byte, addr uint32) error {
	blockSize := protocol.RAMBlockSize
	blocks := (len(data) + blockSize - 1) / blockSize

	if err := l.MemBegin(len(data), blocks, blockSize, addr); err != nil {
		return err
	}
	for seq := 0; seq < blocks; seq++ {
		start := seq * blockSize
		end := start + blockSize
		if end > len(data) {
			end = len(data)
		}
		if err := l.MemBlock(data[start:end], seq); err != nil {
			return err
		}
	}
	return nil
}
