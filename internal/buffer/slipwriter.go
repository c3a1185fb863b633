package buffer

import "github.com/bigbag/esp-loader/internal/slip"

// SlipWriter builds an outbound SLIP frame. While escaping is on,
// writes substitute END and ESC bytes; frame delimiters are written
// with escaping off.
type SlipWriter struct {
	buf    *Buffer
	escape bool
}

// NewSlipWriter creates an empty SlipWriter.
func NewSlipWriter() *SlipWriter {
	return &SlipWriter{buf: New(64)}
}

// Escape toggles SLIP substitution for subsequent writes.
func (w *SlipWriter) Escape(on bool) {
	w.escape = on
}

// WriteByte appends a single byte, escaped if escaping is on.
func (w *SlipWriter) WriteByte(c byte) {
	if w.escape {
		switch c {
		case slip.End:
			w.buf.WriteByte(slip.Esc)
			w.buf.WriteByte(slip.EscEnd)
			return
		case slip.Esc:
			w.buf.WriteByte(slip.Esc)
			w.buf.WriteByte(slip.EscEsc)
			return
		}
	}
	w.buf.WriteByte(c)
}

// Write appends p, escaped if escaping is on.
func (w *SlipWriter) Write(p []byte) {
	if !w.escape {
		w.buf.Write(p)
		return
	}
	for _, c := range p {
		w.WriteByte(c)
	}
}

// Pack appends integers per the Buffer pack format, escaped if
// escaping is on.
func (w *SlipWriter) Pack(format string, args ...uint32) error {
	enc, err := packBytes(format, args)
	if err != nil {
		return err
	}
	w.Write(enc)
	return nil
}

// Bytes returns the accumulated frame.
func (w *SlipWriter) Bytes() []byte {
	return w.buf.View()
}
