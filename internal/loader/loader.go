// Package loader drives the ESP ROM bootloader over a serial
// transport: reset-and-sync, chip detection, flash and RAM writes,
// stub upload and baud rate changes.
package loader

import (
	"fmt"
	"io"
	"log"
	"time"

	"github.com/bigbag/esp-loader/internal/buffer"
	"github.com/bigbag/esp-loader/internal/protocol"
	"github.com/bigbag/esp-loader/internal/reader"
)

// Transport is the serial port contract the loader needs: a byte
// stream, the DTR/RTS control lines, and reopening at a new baud rate.
// The port itself is owned by the caller. Reads are expected to return
// (0, nil) on a timeout with no data.
type Transport interface {
	io.Reader
	io.Writer
	SetDTR(value bool) error
	SetRTS(value bool) error
	Reopen(baudRate int) error
}

// Logger receives debug output. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...interface{})
}

// Options configures a Loader.
type Options struct {
	// FlashSize in bytes, passed to SPI_SET_PARAMS on ESP32.
	FlashSize int
	// Debug enables protocol-level logging through Logger.
	Debug  bool
	Logger Logger
}

const (
	defaultFlashSize = 0x400000

	connectAttempts = 7
	syncAttempts    = 7
	syncBackoff     = 50 * time.Millisecond

	// minimum raw length of a response frame: delimiters (2), header (4),
	// value (4) and at least two status bytes
	minResponseSize = 12
)

// Loader drives one chip over one serial port. Operations are not
// safe for concurrent use; callers serialize them.
type Loader struct {
	transport Transport
	reader    *reader.Reader
	opts      Options
	baud      int

	chipFamily  protocol.ChipFamily
	efuses      [4]uint32
	efusesValid bool
	isStub      bool
	stub        *Stub
}

// New creates a Loader around an already-open transport.
func New(transport Transport, opts Options) *Loader {
	if opts.FlashSize == 0 {
		opts.FlashSize = defaultFlashSize
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Loader{
		transport: transport,
		reader:    reader.New(transport),
		opts:      opts,
		baud:      protocol.DefaultBaudRate,
	}
}

// Baud returns the current baud rate.
func (l *Loader) Baud() int {
	return l.baud
}

// IsStub reports whether the RAM stub is running.
func (l *Loader) IsStub() bool {
	return l.isStub
}

// Connect resets the chip into download mode and synchronizes with the
// ROM bootloader, retrying the whole reset/sync sequence a few times.
// On success the chip family has been probed.
func (l *Loader) Connect() error {
	if err := l.reader.Start(); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < connectAttempts; attempt++ {
		l.debugf("connect attempt %d", attempt+1)
		if err := l.enterBootloader(); err != nil {
			l.reader.Stop()
			return fmt.Errorf("reset into bootloader failed: %w", err)
		}
		if _, err := l.reader.WaitSilent(20, time.Second); err != nil {
			l.reader.Stop()
			return err
		}
		if err := l.sync(); err != nil {
			lastErr = err
			continue
		}

		// Drain whatever the ROM printed after the last sync reply.
		if _, err := l.reader.WaitSilent(1, 200*time.Millisecond); err != nil {
			l.reader.Stop()
			return err
		}
		if _, err := l.ChipFamily(); err != nil {
			l.reader.Stop()
			return err
		}
		return nil
	}

	l.reader.Stop()
	return fmt.Errorf("%w after %d attempts: %v", ErrConnect, connectAttempts, lastErr)
}

// Disconnect stops the background reader and returns the error it
// ended with, if any. The transport stays open; the caller owns it.
func (l *Loader) Disconnect() error {
	err := l.reader.Stop()
	if err == reader.ErrNotRunning {
		return nil
	}
	return err
}

// enterBootloader pulses DTR/RTS so the auto-reset circuit holds
// GPIO0 low through the reset, forcing the chip into download mode.
func (l *Loader) enterBootloader() error {
	steps := []struct {
		dtr, rts bool
		delay    time.Duration
	}{
		{false, true, 100 * time.Millisecond},
		{true, false, 50 * time.Millisecond},
		{false, false, 0},
	}
	for _, s := range steps {
		if err := l.transport.SetDTR(s.dtr); err != nil {
			return err
		}
		if err := l.transport.SetRTS(s.rts); err != nil {
			return err
		}
		time.Sleep(s.delay)
	}
	return nil
}

// sync sends SYNC commands until the bootloader answers.
func (l *Loader) sync() error {
	var lastErr error
	for i := 0; i < syncAttempts; i++ {
		resp, err := l.checkCommand(protocol.CmdSync, protocol.SyncData(), 0, protocol.SyncTimeout)
		if err == nil {
			if len(resp.Data) >= 2 && resp.Data[0] == 0x00 && resp.Data[1] == 0x00 {
				return nil
			}
			lastErr = fmt.Errorf("unexpected sync reply: % X", resp.Data)
		} else {
			lastErr = err
		}
		time.Sleep(syncBackoff)
	}
	return fmt.Errorf("sync failed after %d attempts: %w", syncAttempts, lastErr)
}

// checkCommand sends one framed command and consumes the first reply
// packet. The listener is registered before the write so the reply
// cannot be dropped.
func (l *Loader) checkCommand(cmd byte, data []byte, checksum uint32, timeout time.Duration) (*protocol.Response, error) {
	if timeout > protocol.MaxTimeout {
		timeout = protocol.MaxTimeout
	}

	unlisten, err := l.reader.Listen()
	if err != nil {
		return nil, err
	}
	defer unlisten()

	req := &protocol.Request{Command: cmd, Data: data, Checksum: checksum}
	l.debugf("send cmd=0x%02X len=%d checksum=0x%02X", cmd, len(data), checksum)
	if _, err := l.transport.Write(req.Frame()); err != nil {
		return nil, fmt.Errorf("write command 0x%02X: %w", cmd, err)
	}

	pkt, err := l.reader.Packet(minResponseSize, timeout)
	if err != nil {
		return nil, err
	}
	resp, err := protocol.ParseResponse(pkt)
	if err != nil {
		return nil, err
	}
	if resp.Command != cmd {
		return nil, fmt.Errorf("%w: sent 0x%02X, got 0x%02X", ErrInvalidOpcodeResponse, cmd, resp.Command)
	}
	return resp, nil
}

// ReadRegister reads a 32-bit register on the chip.
func (l *Loader) ReadRegister(addr uint32) (uint32, error) {
	b := buffer.New(4)
	b.Pack("<I", addr)
	resp, err := l.checkCommand(protocol.CmdReadReg, b.View(), 0, protocol.DefaultTimeout)
	if err != nil {
		return 0, fmt.Errorf("read register 0x%08X: %w", addr, err)
	}
	return resp.Value, nil
}

// ChipFamily reads the chip magic register and classifies the chip.
// The result is cached until the stub transition.
func (l *Loader) ChipFamily() (protocol.ChipFamily, error) {
	if l.chipFamily != protocol.ChipUnknown {
		return l.chipFamily, nil
	}
	magic, err := l.ReadRegister(protocol.ChipMagicAddr)
	if err != nil {
		return protocol.ChipUnknown, err
	}
	family, err := protocol.ChipFamilyFromMagic(magic)
	if err != nil {
		return protocol.ChipUnknown, fmt.Errorf("%w: magic 0x%08X", err, magic)
	}
	l.debugf("detected %v", family)
	l.chipFamily = family
	return family, nil
}

// Efuses reads the four eFuse words. The result is cached until the
// stub transition.
func (l *Loader) Efuses() ([4]uint32, error) {
	if l.efusesValid {
		return l.efuses, nil
	}
	family, err := l.ChipFamily()
	if err != nil {
		return [4]uint32{}, err
	}
	base := family.EfuseBase()
	var efuses [4]uint32
	for i := range efuses {
		efuses[i], err = l.ReadRegister(base + uint32(4*i))
		if err != nil {
			return [4]uint32{}, err
		}
	}
	l.efuses = efuses
	l.efusesValid = true
	return efuses, nil
}

// MacAddr derives the chip's MAC address from its eFuses.
func (l *Loader) MacAddr() ([6]byte, error) {
	family, err := l.ChipFamily()
	if err != nil {
		return [6]byte{}, err
	}
	efuses, err := l.Efuses()
	if err != nil {
		return [6]byte{}, err
	}
	return protocol.MacAddr(family, efuses)
}

// ChipName returns the marketing name of the connected chip.
func (l *Loader) ChipName() (string, error) {
	family, err := l.ChipFamily()
	if err != nil {
		return "", err
	}
	efuses, err := l.Efuses()
	if err != nil {
		return "", err
	}
	return protocol.ChipName(family, efuses), nil
}

// ChangeBaudRate switches the link to a new baud rate: the chip is
// told first, then the port is reopened and the reader restarted.
func (l *Loader) ChangeBaudRate(baudRate int) error {
	prev := uint32(0)
	if l.isStub {
		prev = uint32(l.baud)
	}
	b := buffer.New(8)
	b.Pack("<II", uint32(baudRate), prev)
	if _, err := l.checkCommand(protocol.CmdChangeBaudrate, b.View(), 0, protocol.DefaultTimeout); err != nil {
		return fmt.Errorf("change baudrate failed: %w", err)
	}

	if err := l.reader.Stop(); err != nil {
		return err
	}
	if err := l.transport.Reopen(baudRate); err != nil {
		return err
	}
	if err := l.reader.Start(); err != nil {
		return err
	}
	if _, err := l.reader.WaitSilent(10, 200*time.Millisecond); err != nil {
		return err
	}
	l.baud = baudRate
	l.debugf("baud rate changed to %d", baudRate)
	return nil
}

// EraseFlash erases the entire flash. Only the stub implements it.
func (l *Loader) EraseFlash() error {
	if !l.isStub {
		return fmt.Errorf("erase flash requires the stub loader")
	}
	_, err := l.checkCommand(protocol.CmdEraseFlash, nil, 0, protocol.ChipEraseTimeout)
	return err
}

func (l *Loader) debugf(format string, v ...interface{}) {
	if l.opts.Debug {
		l.opts.Logger.Printf("esp-loader: "+format, v...)
	}
}
