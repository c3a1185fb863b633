package slip

import (
	"bytes"
	"testing"
)

func TestEncode_EmptyData(t *testing.T) {
	result := Encode(nil)
	expected := []byte{End, End}
	if !bytes.Equal(result, expected) {
		t.Errorf("Encode(nil) = %v, want %v", result, expected)
	}

	result = Encode([]byte{})
	if !bytes.Equal(result, expected) {
		t.Errorf("Encode([]) = %v, want %v", result, expected)
	}
}

func TestEncode_NoSpecialBytes(t *testing.T) {
	input := []byte{0x01, 0x02, 0x03, 0x04}
	result := Encode(input)
	expected := []byte{End, 0x01, 0x02, 0x03, 0x04, End}
	if !bytes.Equal(result, expected) {
		t.Errorf("Encode(%v) = %v, want %v", input, result, expected)
	}
}

func TestEncode_EscapeEndByte(t *testing.T) {
	input := []byte{0x01, End, 0x03}
	result := Encode(input)
	expected := []byte{End, 0x01, Esc, EscEnd, 0x03, End}
	if !bytes.Equal(result, expected) {
		t.Errorf("Encode(%v) = %v, want %v", input, result, expected)
	}
}

func TestEncode_EscapeEscByte(t *testing.T) {
	input := []byte{0x01, Esc, 0x03}
	result := Encode(input)
	expected := []byte{End, 0x01, Esc, EscEsc, 0x03, End}
	if !bytes.Equal(result, expected) {
		t.Errorf("Encode(%v) = %v, want %v", input, result, expected)
	}
}

func TestEncode_NoUnescapedInteriorEnd(t *testing.T) {
	input := []byte{End, Esc, End, Esc, 0x00, 0xFF}
	result := Encode(input)

	if result[0] != End || result[len(result)-1] != End {
		t.Fatalf("Encode(%v) = %v, not bracketed by END", input, result)
	}
	for i, b := range result[1 : len(result)-1] {
		if b == End {
			t.Errorf("Encode(%v) has unescaped END at interior offset %d", input, i+1)
		}
	}
}

func TestUnescape_InPlace(t *testing.T) {
	data := []byte{0x01, Esc, EscEnd, 0x02, Esc, EscEsc, 0x03}
	result := Unescape(data)
	expected := []byte{0x01, End, 0x02, Esc, 0x03}
	if !bytes.Equal(result, expected) {
		t.Errorf("Unescape = %v, want %v", result, expected)
	}
}

func TestUnescape_UnknownEscapeSequence(t *testing.T) {
	// Unknown escape sequence should pass through the second byte
	data := []byte{0x01, Esc, 0xFF, 0x03}
	result := Unescape(data)
	expected := []byte{0x01, 0xFF, 0x03}
	if !bytes.Equal(result, expected) {
		t.Errorf("Unescape = %v, want %v", result, expected)
	}
}

func TestDecode_ValidFrame(t *testing.T) {
	frame := []byte{End, 0x01, 0x02, 0x03, End}
	result := Decode(frame)
	expected := []byte{0x01, 0x02, 0x03}
	if !bytes.Equal(result, expected) {
		t.Errorf("Decode(%v) = %v, want %v", frame, result, expected)
	}
}

func TestDecode_UnescapeEndByte(t *testing.T) {
	frame := []byte{End, 0x01, Esc, EscEnd, 0x03, End}
	result := Decode(frame)
	expected := []byte{0x01, End, 0x03}
	if !bytes.Equal(result, expected) {
		t.Errorf("Decode(%v) = %v, want %v", frame, result, expected)
	}
}

func TestDecode_TooShort(t *testing.T) {
	if result := Decode([]byte{End}); result != nil {
		t.Errorf("Decode([0xC0]) = %v, want nil", result)
	}
	if result := Decode(nil); result != nil {
		t.Errorf("Decode(nil) = %v, want nil", result)
	}
}

func TestDecode_MultipleEndBytes(t *testing.T) {
	frame := []byte{End, End, End, 0x01, 0x02, End, End}
	result := Decode(frame)
	expected := []byte{0x01, 0x02}
	if !bytes.Equal(result, expected) {
		t.Errorf("Decode(%v) = %v, want %v", frame, result, expected)
	}
}

func TestDecode_DoesNotAliasInput(t *testing.T) {
	frame := []byte{End, 0x01, 0x02, End}
	result := Decode(frame)
	result[0] = 0xAA
	if frame[1] != 0x01 {
		t.Error("Decode mutated its input")
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	testCases := [][]byte{
		{0x00},
		{0x01, 0x02, 0x03},
		{End},
		{Esc},
		{End, Esc},
		{0x00, End, 0x00, Esc, 0x00},
		{0xFF, 0xFE, 0xFD},
		make([]byte, 256),
	}

	for i, tc := range testCases {
		encoded := Encode(tc)
		decoded := Decode(encoded)
		if !bytes.Equal(decoded, tc) {
			t.Errorf("Case %d: RoundTrip(%v) = %v, want %v", i, tc, decoded, tc)
		}
	}
}

func FuzzEncodeDecode(f *testing.F) {
	f.Add([]byte{0x01, End, Esc, 0xFF})
	f.Add([]byte{End, End})
	f.Add([]byte{})
	f.Fuzz(func(t *testing.T, data []byte) {
		encoded := Encode(data)
		if encoded[0] != End || encoded[len(encoded)-1] != End {
			t.Fatalf("Encode(%v) = %v, not bracketed by END", data, encoded)
		}
		for _, b := range encoded[1 : len(encoded)-1] {
			if b == End {
				t.Fatalf("Encode(%v) contains unescaped interior END", data)
			}
		}
		decoded := Decode(encoded)
		if len(data) == 0 {
			if decoded != nil {
				t.Fatalf("Decode(Encode(empty)) = %v, want nil", decoded)
			}
			return
		}
		if !bytes.Equal(decoded, data) {
			t.Fatalf("RoundTrip(%v) = %v", data, decoded)
		}
	})
}
