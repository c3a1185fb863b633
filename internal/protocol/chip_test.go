package protocol

import (
	"errors"
	"testing"
)

func TestChipFamilyFromMagic(t *testing.T) {
	tests := []struct {
		magic    uint32
		expected ChipFamily
	}{
		{MagicESP32, ChipESP32},
		{MagicESP32S2, ChipESP32S2},
		{MagicESP8266, ChipESP8266},
	}
	for _, tc := range tests {
		family, err := ChipFamilyFromMagic(tc.magic)
		if err != nil {
			t.Errorf("ChipFamilyFromMagic(0x%08X) failed: %v", tc.magic, err)
		}
		if family != tc.expected {
			t.Errorf("ChipFamilyFromMagic(0x%08X) = %v, want %v", tc.magic, family, tc.expected)
		}
	}
}

func TestChipFamilyFromMagic_Unknown(t *testing.T) {
	if _, err := ChipFamilyFromMagic(0xDEADBEEF); !errors.Is(err, ErrUnknownChipFamily) {
		t.Errorf("ChipFamilyFromMagic(garbage) error = %v, want ErrUnknownChipFamily", err)
	}
}

func TestEfuseBase(t *testing.T) {
	if base := ChipESP8266.EfuseBase(); base != 0x3FF00050 {
		t.Errorf("ESP8266 eFuse base = 0x%X, want 0x3FF00050", base)
	}
	if base := ChipESP32.EfuseBase(); base != 0x6001A000 {
		t.Errorf("ESP32 eFuse base = 0x%X, want 0x6001A000", base)
	}
	if base := ChipESP32S2.EfuseBase(); base != 0x6001A000 {
		t.Errorf("ESP32-S2 eFuse base = 0x%X, want 0x6001A000", base)
	}
}

func TestWriteSize(t *testing.T) {
	tests := []struct {
		family   ChipFamily
		stub     bool
		expected int
	}{
		{ChipESP32, false, 0x200},
		{ChipESP8266, false, 0x200},
		{ChipESP32S2, false, 0x400},
		{ChipESP32, true, 0x4000},
		{ChipESP32S2, true, 0x4000},
	}
	for _, tc := range tests {
		if got := tc.family.WriteSize(tc.stub); got != tc.expected {
			t.Errorf("%v.WriteSize(%v) = 0x%X, want 0x%X", tc.family, tc.stub, got, tc.expected)
		}
	}
}

func TestMacAddr_ESP32(t *testing.T) {
	efuses := [4]uint32{0, 0x11223344, 0x00005566, 0}
	mac, err := MacAddr(ChipESP32, efuses)
	if err != nil {
		t.Fatalf("MacAddr failed: %v", err)
	}
	expected := [6]byte{0x55, 0x66, 0x11, 0x22, 0x33, 0x44}
	if mac != expected {
		t.Errorf("MacAddr = % X, want % X", mac, expected)
	}
}

func TestMacAddr_ESP8266_CustomOUI(t *testing.T) {
	efuses := [4]uint32{0x99000000, 0x00665544, 0, 0x00ABCDEF}
	mac, err := MacAddr(ChipESP8266, efuses)
	if err != nil {
		t.Fatalf("MacAddr failed: %v", err)
	}
	expected := [6]byte{0xAB, 0xCD, 0xEF, 0x55, 0x44, 0x99}
	if mac != expected {
		t.Errorf("MacAddr = % X, want % X", mac, expected)
	}
}

func TestMacAddr_ESP8266_KnownOUIs(t *testing.T) {
	tests := []struct {
		efuse1 uint32
		oui    [3]byte
	}{
		{0x00005544, [3]byte{0x18, 0xFE, 0x34}},
		{0x00015544, [3]byte{0xAC, 0xD0, 0x74}},
	}
	for _, tc := range tests {
		efuses := [4]uint32{0x77000000, tc.efuse1, 0, 0}
		mac, err := MacAddr(ChipESP8266, efuses)
		if err != nil {
			t.Fatalf("MacAddr failed: %v", err)
		}
		expected := [6]byte{tc.oui[0], tc.oui[1], tc.oui[2], 0x55, 0x44, 0x77}
		if mac != expected {
			t.Errorf("MacAddr(efuse1=0x%X) = % X, want % X", tc.efuse1, mac, expected)
		}
	}
}

func TestMacAddr_ESP8266_UnknownOUI(t *testing.T) {
	efuses := [4]uint32{0, 0x00025544, 0, 0}
	if _, err := MacAddr(ChipESP8266, efuses); !errors.Is(err, ErrUnknownOUI) {
		t.Errorf("MacAddr error = %v, want ErrUnknownOUI", err)
	}
}

func TestChipName(t *testing.T) {
	tests := []struct {
		family   ChipFamily
		efuses   [4]uint32
		expected string
	}{
		{ChipESP32, [4]uint32{}, "ESP32"},
		{ChipESP32S2, [4]uint32{}, "ESP32-S2"},
		{ChipESP8266, [4]uint32{}, "ESP8266EX"},
		{ChipESP8266, [4]uint32{1 << 4, 0, 0, 0}, "ESP8285"},
		{ChipESP8266, [4]uint32{0, 0, 1 << 16, 0}, "ESP8285"},
	}
	for _, tc := range tests {
		if got := ChipName(tc.family, tc.efuses); got != tc.expected {
			t.Errorf("ChipName(%v, %v) = %q, want %q", tc.family, tc.efuses, got, tc.expected)
		}
	}
}
