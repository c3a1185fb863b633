package loader

import "errors"

var (
	// ErrConnect means the reset/sync handshake was exhausted without
	// the bootloader ever answering.
	ErrConnect = errors.New("failed to connect to bootloader")

	// ErrInvalidOpcodeResponse means a reply did not echo the opcode
	// of the command that was sent.
	ErrInvalidOpcodeResponse = errors.New("response opcode mismatch")

	// ErrStubStartFailed means the RAM stub did not greet with "OHAI".
	ErrStubStartFailed = errors.New("stub did not start")

	// ErrUnsupportedChipFamily means no built-in stub exists for the
	// connected chip.
	ErrUnsupportedChipFamily = errors.New("no stub available for chip family")

	// ErrStubOverlap means a RAM load range collides with the running
	// stub's own text or data segment.
	ErrStubOverlap = errors.New("load range overlaps the running stub")
)
