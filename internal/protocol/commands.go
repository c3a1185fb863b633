// Package protocol implements the ESP ROM bootloader serial protocol:
// command framing, response parsing, chip family dispatch and the
// constants the ROM and stub loaders share.
package protocol

import "time"

// ROM bootloader commands
const (
	CmdFlashBegin     = 0x02
	CmdFlashData      = 0x03
	CmdFlashEnd       = 0x04
	CmdMemBegin       = 0x05
	CmdMemEnd         = 0x06
	CmdMemData        = 0x07
	CmdSync           = 0x08
	CmdReadReg        = 0x0A
	CmdSpiSetParams   = 0x0B
	CmdSpiAttach      = 0x0D
	CmdChangeBaudrate = 0x0F
	CmdEraseFlash     = 0xD0
)

// Direction byte values
const (
	DirRequest  = 0x00
	DirResponse = 0x01
)

// Flash and RAM geometry
const (
	FlashSectorSize    = 0x1000
	FlashWriteSize     = 0x200  // ROM loader
	FlashWriteSizeS2   = 0x400  // ESP32-S2 ROM loader
	FlashWriteSizeStub = 0x4000 // stub loader
	RAMBlockSize       = 0x1800
	SectorsPerBlock    = 16
)

// DefaultBaudRate is the fixed baud rate of the ROM bootloader.
const DefaultBaudRate = 115200

// Timeouts
const (
	DefaultTimeout     = 3 * time.Second
	MaxTimeout         = 600 * time.Second
	SyncTimeout        = 100 * time.Millisecond
	MemEndTimeout      = 50 * time.Millisecond
	ChipEraseTimeout   = 300 * time.Second
	FlashBlockTimeout  = 2 * time.Second
	EraseRegionPerMB   = 30 * time.Second
)

// ChecksumInit is the initial state of the per-block XOR checksum.
const ChecksumInit = 0xEF

// Checksum computes the XOR checksum used by the FLASH_DATA and
// MEM_DATA commands.
func Checksum(data []byte) uint32 {
	var sum byte = ChecksumInit
	for _, b := range data {
		sum ^= b
	}
	return uint32(sum)
}

// SyncData returns the data payload for a SYNC command.
func SyncData() []byte {
	// SYNC payload: 0x07 0x07 0x12 0x20 followed by 32 bytes of 0x55
	data := make([]byte, 36)
	data[0] = 0x07
	data[1] = 0x07
	data[2] = 0x12
	data[3] = 0x20
	for i := 4; i < 36; i++ {
		data[i] = 0x55
	}
	return data
}

// EraseSize returns the number of bytes to pass to FLASH_BEGIN on the
// ESP8266 ROM loader. The ROM erases the wrong amount unless the
// requested size is adjusted around the first 64 KB block boundary.
func EraseSize(offset, size int) int {
	numSectors := (size + FlashSectorSize - 1) / FlashSectorSize
	startSector := offset / FlashSectorSize

	headSectors := SectorsPerBlock - startSector%SectorsPerBlock
	if numSectors < headSectors {
		headSectors = numSectors
	}

	if numSectors < 2*headSectors {
		return (numSectors + 1) / 2 * FlashSectorSize
	}
	return (numSectors - headSectors) * FlashSectorSize
}

// TimeoutPerMB scales a per-megabyte timeout to the given size, with
// DefaultTimeout as the floor.
func TimeoutPerMB(perMB time.Duration, size int) time.Duration {
	timeout := time.Duration(float64(perMB) * float64(size) / (1024 * 1024))
	if timeout < DefaultTimeout {
		return DefaultTimeout
	}
	return timeout
}
