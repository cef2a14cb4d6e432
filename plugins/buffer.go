package plugins

import (
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/icyseptember2237/scripthost"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Buffer installs a Buffer object with from and alloc. Each buffer is a
// script object backed by a Go byte slice.
type Buffer struct{}

func NewBuffer() *Buffer {
	return &Buffer{}
}

func (p *Buffer) Setup(c *scripthost.Context) error {
	return namespace(c, "Buffer", map[string]scripthost.HostFunc{
		"from": func(_ *scripthost.Value, args []any) (any, error) {
			data, err := bufferInput(args)
			if err != nil {
				return nil, err
			}
			return newBuffer(c, data)
		},
		"alloc": func(_ *scripthost.Value, args []any) (any, error) {
			n, _ := intArg(args, 0)
			if n < 0 {
				return nil, argError("Buffer.alloc", "size must not be negative")
			}
			return newBuffer(c, make([]byte, n))
		},
	}, nil)
}

func (p *Buffer) Close(*scripthost.Context) {}

func bufferInput(args []any) ([]byte, error) {
	enc, _ := stringArg(args, 1)
	switch x := arg(args, 0).(type) {
	case string:
		return Encode(x, enc)
	case *scripthost.Value:
		if x == nil || !x.IsArray() {
			break
		}
		items, err := x.ToSlice()
		if err != nil {
			return nil, err
		}
		data := make([]byte, len(items))
		for i := range items {
			n, _ := intArg(items, i)
			data[i] = byte(n)
		}
		return data, nil
	}
	return nil, argError("Buffer.from", "the first argument must be a string or an array")
}

func newBuffer(c *scripthost.Context, data []byte) (*scripthost.Value, error) {
	obj, err := c.NewObject()
	if err != nil {
		return nil, err
	}
	err = populate(obj, map[string]scripthost.HostFunc{
		"toString": func(_ *scripthost.Value, args []any) (any, error) {
			enc, _ := stringArg(args, 0)
			return Decode(data, enc)
		},
		"toJSON": func(*scripthost.Value, []any) (any, error) {
			bytes := make([]any, len(data))
			for i, b := range data {
				bytes[i] = int(b)
			}
			return map[string]any{"type": "Buffer", "data": bytes}, nil
		},
		"readUInt8": func(_ *scripthost.Value, args []any) (any, error) {
			off, _ := intArg(args, 0)
			if off < 0 || off >= len(data) {
				return nil, argError("buffer.readUInt8", "offset out of range")
			}
			return int(data[off]), nil
		},
		"write": func(_ *scripthost.Value, args []any) (any, error) {
			s, _ := stringArg(args, 0)
			off, _ := intArg(args, 1)
			if off < 0 || off > len(data) {
				return nil, argError("buffer.write", "offset out of range")
			}
			return copy(data[off:], s), nil
		},
	}, map[string]any{"length": len(data)})
	if err != nil {
		_ = obj.Close()
		return nil, err
	}
	return obj, nil
}

func textEncoding(name string) (encoding.Encoding, bool) {
	switch name {
	case "utf16le", "utf-16le", "ucs2", "ucs-2":
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM), true
	case "utf16be", "utf-16be":
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM), true
	case "latin1", "binary", "iso-8859-1":
		return charmap.ISO8859_1, true
	}
	return nil, false
}

// Encode converts s to bytes in the named encoding. The empty name is
// utf-8.
func Encode(s, enc string) ([]byte, error) {
	enc = strings.ToLower(enc)
	switch enc {
	case "", "utf8", "utf-8":
		return []byte(s), nil
	case "ascii":
		out := make([]byte, 0, len(s))
		for _, r := range s {
			out = append(out, byte(r)&0x7f)
		}
		return out, nil
	case "hex":
		return hex.DecodeString(s)
	case "base64":
		return base64.StdEncoding.DecodeString(s)
	}
	if e, ok := textEncoding(enc); ok {
		return e.NewEncoder().Bytes([]byte(s))
	}
	return nil, argError("encode", "unsupported encoding: "+enc)
}

// Decode converts data in the named encoding to a string.
func Decode(data []byte, enc string) (string, error) {
	enc = strings.ToLower(enc)
	switch enc {
	case "", "utf8", "utf-8":
		return string(data), nil
	case "ascii":
		out := make([]byte, len(data))
		for i, b := range data {
			out[i] = b & 0x7f
		}
		return string(out), nil
	case "hex":
		return hex.EncodeToString(data), nil
	case "base64":
		return base64.StdEncoding.EncodeToString(data), nil
	}
	if e, ok := textEncoding(enc); ok {
		out, err := e.NewDecoder().Bytes(data)
		return string(out), err
	}
	return "", argError("decode", "unsupported encoding: "+enc)
}
