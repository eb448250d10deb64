package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// Kind discriminates the variants of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is a recursive tagged value: null, boolean, number, string, ordered
// list, or ordered key/value map. It carries a record's free-form nested
// field through every encoder without collapsing it to a dynamic type.
//
// Map keys keep their insertion order and numbers keep their source literal,
// so a value parsed from JSON serializes back byte-for-byte. The zero Value
// is null.
type Value struct {
	kind Kind
	b    bool
	lit  string // number literal
	str  string
	list []Value
	keys []string
	vals []Value
}

// Entry is one key/value pair of a map Value.
type Entry struct {
	Key   string
	Value Value
}

func Null() Value          { return Value{} }
func Bool(v bool) Value    { return Value{kind: KindBool, b: v} }
func String(v string) Value { return Value{kind: KindString, str: v} }

// Number wraps a raw numeric literal. The literal is emitted verbatim, so it
// must be a valid JSON number.
func Number(literal string) Value { return Value{kind: KindNumber, lit: literal} }

func Int(v int64) Value { return Number(strconv.FormatInt(v, 10)) }

// Float renders v with the shortest decimal form that round-trips.
func Float(v float64) Value { return Number(strconv.FormatFloat(v, 'f', -1, 64)) }

func List(items ...Value) Value { return Value{kind: KindList, list: items} }

func Map(entries ...Entry) Value {
	v := Value{kind: KindMap}
	if len(entries) == 0 {
		return v
	}
	v.keys = make([]string, len(entries))
	v.vals = make([]Value, len(entries))
	for i, e := range entries {
		v.keys[i] = e.Key
		v.vals[i] = e.Value
	}
	return v
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// Bool returns the boolean payload; false unless Kind is KindBool.
func (v Value) Bool() bool { return v.b }

// Number returns the raw numeric literal; empty unless Kind is KindNumber.
func (v Value) Number() string { return v.lit }

// Text returns the string payload; empty unless Kind is KindString.
func (v Value) Text() string { return v.str }

// Items returns the elements of a list Value in order.
func (v Value) Items() []Value { return v.list }

// Len returns the number of elements of a list or map Value.
func (v Value) Len() int {
	if v.kind == KindList {
		return len(v.list)
	}
	return len(v.keys)
}

// Entry returns the i-th key/value pair of a map Value in insertion order.
func (v Value) Entry(i int) (string, Value) { return v.keys[i], v.vals[i] }

// Get returns the value stored under key in a map Value.
func (v Value) Get(key string) (Value, bool) {
	for i, k := range v.keys {
		if k == key {
			return v.vals[i], true
		}
	}
	return Value{}, false
}

// String renders the value as canonical JSON.
func (v Value) String() string { return string(v.AppendJSON(nil)) }

// AppendJSON appends the canonical JSON form of v to dst and returns the
// extended slice. Map keys are written in insertion order and number
// literals verbatim; strings are escaped without the HTML substitutions
// encoding/json applies.
func (v Value) AppendJSON(dst []byte) []byte {
	switch v.kind {
	case KindNull:
		return append(dst, "null"...)
	case KindBool:
		if v.b {
			return append(dst, "true"...)
		}
		return append(dst, "false"...)
	case KindNumber:
		return append(dst, v.lit...)
	case KindString:
		return AppendQuoted(dst, v.str)
	case KindList:
		dst = append(dst, '[')
		for i := range v.list {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = v.list[i].AppendJSON(dst)
		}
		return append(dst, ']')
	case KindMap:
		dst = append(dst, '{')
		for i, k := range v.keys {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = AppendQuoted(dst, k)
			dst = append(dst, ':')
			dst = v.vals[i].AppendJSON(dst)
		}
		return append(dst, '}')
	}
	return dst
}

const hexDigits = "0123456789abcdef"

// AppendQuoted appends s as a JSON string literal.
func AppendQuoted(dst []byte, s string) []byte {
	dst = append(dst, '"')
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x20 && c != '"' && c != '\\' {
			continue
		}
		dst = append(dst, s[start:i]...)
		switch c {
		case '"':
			dst = append(dst, '\\', '"')
		case '\\':
			dst = append(dst, '\\', '\\')
		case '\n':
			dst = append(dst, '\\', 'n')
		case '\r':
			dst = append(dst, '\\', 'r')
		case '\t':
			dst = append(dst, '\\', 't')
		default:
			dst = append(dst, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xf])
		}
		start = i + 1
	}
	dst = append(dst, s[start:]...)
	return append(dst, '"')
}

// ParseJSON parses one JSON document into a Value, preserving object key
// order and number literals exactly.
func ParseJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return Value{}, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return Value{}, fmt.Errorf("trailing data after JSON value")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}

	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Number(t.String()), nil
	case string:
		return String(t), nil
	case json.Delim:
		switch t {
		case '[':
			v := Value{kind: KindList}
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				v.list = append(v.list, item)
			}
			if _, err := dec.Token(); err != nil { // closing ]
				return Value{}, err
			}
			return v, nil
		case '{':
			v := Value{kind: KindMap}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("object key is %T, want string", keyTok)
				}
				mv, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				v.keys = append(v.keys, key)
				v.vals = append(v.vals, mv)
			}
			if _, err := dec.Token(); err != nil { // closing }
				return Value{}, err
			}
			return v, nil
		}
	}
	return Value{}, fmt.Errorf("unexpected token %v", tok)
}
