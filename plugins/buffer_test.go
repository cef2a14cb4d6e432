package plugins

import (
	"bytes"
	"errors"
	"testing"

	"github.com/icyseptember2237/scripthost"
)

func TestEncodeDecode(t *testing.T) {
	tests := []struct {
		enc  string
		text string
		data []byte
	}{
		{"", "hé", []byte("hé")},
		{"utf8", "hi", []byte("hi")},
		{"ascii", "hi", []byte("hi")},
		{"hex", "ff00", []byte{0xff, 0x00}},
		{"base64", "aGk=", []byte("hi")},
		{"utf16le", "hi", []byte{'h', 0, 'i', 0}},
		{"ucs2", "hi", []byte{'h', 0, 'i', 0}},
		{"utf16be", "hi", []byte{0, 'h', 0, 'i'}},
		{"latin1", "é", []byte{0xe9}},
	}
	for _, tt := range tests {
		data, err := Encode(tt.text, tt.enc)
		if err != nil {
			t.Errorf("Encode(%q, %q) error = %v", tt.text, tt.enc, err)
			continue
		}
		if !bytes.Equal(data, tt.data) {
			t.Errorf("Encode(%q, %q) = %x, want %x", tt.text, tt.enc, data, tt.data)
		}
		text, err := Decode(tt.data, tt.enc)
		if err != nil || text != tt.text {
			t.Errorf("Decode(%x, %q) = %q, %v, want %q", tt.data, tt.enc, text, err, tt.text)
		}
	}

	if _, err := Encode("x", "ebcdic"); !errors.Is(err, scripthost.ErrUnsupported) {
		t.Errorf("Encode(ebcdic) error = %v, want ErrUnsupported", err)
	}
}

func TestBuffer_Script(t *testing.T) {
	c := newTestContext(t, scripthost.NewJsEngine(), NewBuffer())

	texts := map[string]string{
		"Buffer.from('hello').toString('base64')":    "aGVsbG8=",
		"Buffer.from([104, 105]).toString()":         "hi",
		"Buffer.from('aGk=', 'base64').toString()":   "hi",
		"Buffer.from('hi').toString('hex')":          "6869",
		"JSON.stringify(Buffer.from('hi').toJSON())": `{"data":[104,105],"type":"Buffer"}`,
	}
	for src, want := range texts {
		if got, err := c.EvaluateString(src, "buffer.js"); err != nil || got != want {
			t.Errorf("%s = %q, %v, want %q", src, got, err, want)
		}
	}

	ints := map[string]int{
		"Buffer.from('hi').length":                  2,
		"Buffer.alloc(4).length":                    4,
		"Buffer.from('ff00', 'hex').readUInt8(0)":   255,
		"var b = Buffer.alloc(3); b.write('ab', 1)": 2,
	}
	for src, want := range ints {
		if got, err := c.EvaluateInteger(src, "buffer.js"); err != nil || got != want {
			t.Errorf("%s = %d, %v, want %d", src, got, err, want)
		}
	}

	if _, err := c.Evaluate("Buffer.from('hi').readUInt8(5)", "range.js"); err == nil {
		t.Error("readUInt8(out of range) error = nil")
	}
	if _, err := c.Evaluate("Buffer.from(42)", "bad.js"); err == nil {
		t.Error("Buffer.from(number) error = nil")
	}
}
