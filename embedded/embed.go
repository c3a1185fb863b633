// Package embedded carries the built-in ESP32 RAM stub segments.
package embedded

import (
	_ "embed"
)

//go:embed esp32_stub_text.bin
var esp32StubText []byte

//go:embed esp32_stub_data.bin
var esp32StubData []byte

// Load addresses and entry point of the ESP32 stub.
const (
	ESP32StubTextStart = 0x400BE000
	ESP32StubDataStart = 0x3FFDEBA8
	ESP32StubEntry     = 0x400BE59C
)

// ESP32StubText returns the stub's text segment.
func ESP32StubText() []byte {
	return esp32StubText
}

// ESP32StubData returns the stub's data segment.
func ESP32StubData() []byte {
	return esp32StubData
}
