package loader

import (
	"fmt"

	"github.com/bigbag/esp-loader/internal/buffer"
	"github.com/bigbag/esp-loader/internal/protocol"
)

// ProgressFunc is called before each block write.
type ProgressFunc func(block, total int)

// FlashData writes data to SPI flash at offset. The data is padded
// with 0xFF to the loader's alignment, split into write-size blocks
// and streamed with per-block checksums.
func (l *Loader) FlashData(data []byte, offset uint32, progress ProgressFunc, encrypted bool) error {
	align := 4
	if encrypted {
		align = 32
	}
	data = padTo(data, align)

	writeSize, numBlocks, err := l.flashBegin(len(data), offset, encrypted)
	if err != nil {
		return err
	}

	for seq := 0; seq < numBlocks; seq++ {
		start := seq * writeSize
		end := start + writeSize
		if end > len(data) {
			end = len(data)
		}
		block := padTo(data[start:end], writeSize)

		if progress != nil {
			progress(seq, numBlocks)
		}
		if err := l.flashBlock(block, seq); err != nil {
			return fmt.Errorf("flash block %d/%d failed: %w", seq, numBlocks, err)
		}
	}

	if l.isStub {
		// The stub acks the last block before the SPI write has
		// finished; a register read acts as a fence.
		if _, err := l.ReadRegister(protocol.ChipMagicAddr); err != nil {
			return err
		}
	}
	return nil
}

// FlashFinish leaves flashing mode, rebooting the chip when asked.
func (l *Loader) FlashFinish(reboot bool) error {
	if _, _, err := l.flashBegin(0, 0, false); err != nil {
		return err
	}
	stay := uint32(1)
	if reboot {
		stay = 0
	}
	b := buffer.New(4)
	b.Pack("<I", stay)
	if _, err := l.checkCommand(protocol.CmdFlashEnd, b.View(), 0, protocol.DefaultTimeout); err != nil {
		return fmt.Errorf("flash end failed: %w", err)
	}
	return nil
}

// flashBegin announces an upcoming write of size bytes at offset and
// returns the block geometry to stream it with.
func (l *Loader) flashBegin(size int, offset uint32, encrypted bool) (writeSize, numBlocks int, err error) {
	family, err := l.ChipFamily()
	if err != nil {
		return 0, 0, err
	}

	if family == protocol.ChipESP32 || family == protocol.ChipESP32S2 {
		if _, err := l.checkCommand(protocol.CmdSpiAttach, make([]byte, 8), 0, protocol.DefaultTimeout); err != nil {
			return 0, 0, fmt.Errorf("spi attach failed: %w", err)
		}
	}
	if family == protocol.ChipESP32 {
		b := buffer.New(24)
		b.Pack("<IIIIII", 0, uint32(l.opts.FlashSize), 0x10000, 4096, 256, 0xFFFF)
		if _, err := l.checkCommand(protocol.CmdSpiSetParams, b.View(), 0, protocol.DefaultTimeout); err != nil {
			return 0, 0, fmt.Errorf("spi set params failed: %w", err)
		}
	}

	writeSize = family.WriteSize(l.isStub)
	numBlocks = (size + writeSize - 1) / writeSize

	eraseSize := size
	if family == protocol.ChipESP8266 {
		eraseSize = protocol.EraseSize(int(offset), size)
	}

	// The ROM erases the region during FLASH_BEGIN, so the timeout
	// scales with the size; the stub erases incrementally.
	timeout := protocol.DefaultTimeout
	if !l.isStub {
		timeout = protocol.TimeoutPerMB(protocol.EraseRegionPerMB, size)
	}

	b := buffer.New(20)
	b.Pack("<IIII", uint32(eraseSize), uint32(numBlocks), uint32(writeSize), offset)
	if family == protocol.ChipESP32S2 {
		flag := uint32(0)
		if encrypted {
			flag = 1
		}
		b.Pack("<I", flag)
	}
	if _, err := l.checkCommand(protocol.CmdFlashBegin, b.View(), 0, timeout); err != nil {
		return 0, 0, fmt.Errorf("flash begin failed: %w", err)
	}

	l.debugf("flash begin: size=0x%X erase=0x%X blocks=%d write_size=0x%X offset=0x%X",
		size, eraseSize, numBlocks, writeSize, offset)
	return writeSize, numBlocks, nil
}

func (l *Loader) flashBlock(block []byte, seq int) error {
	b := buffer.New(16 + len(block))
	b.Pack("<IIII", uint32(len(block)), uint32(seq), 0, 0)
	b.Write(block)
	_, err := l.checkCommand(protocol.CmdFlashData, b.View(), protocol.Checksum(block), protocol.FlashBlockTimeout)
	return err
}

// padTo pads data with 0xFF to a multiple of align, copying only when
// padding is needed.
func padTo(data []byte, align int) []byte {
	rem := len(data) % align
	if rem == 0 {
		return data
	}
	padded := make([]byte, len(data)+align-rem)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = 0xFF
	}
	return padded
}
