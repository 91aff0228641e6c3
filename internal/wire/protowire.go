package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Low-level append/consume helpers shared by the topic envelopes and the
// hand-maintained RPC messages in pb. Zero values are omitted on encode,
// matching proto3 semantics.

// AppendString appends a string field when non-empty.
func AppendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// AppendBytes appends a bytes field when non-empty.
func AppendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// AppendInt64 appends a varint field when non-zero.
func AppendInt64(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

// AppendBool appends a varint field when true.
func AppendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

// WalkFields iterates the top-level fields of data and hands each one to
// fn with its raw remainder. fn consumes what it understands; unknown
// field numbers are skipped, which keeps the format forward-compatible.
func WalkFields(data []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		if err := fn(num, typ, data); err != nil {
			return err
		}
		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
	}
	return nil
}

// ConsumeString reads a length-delimited string field value.
func ConsumeString(typ protowire.Type, v []byte) (string, error) {
	if typ != protowire.BytesType {
		return "", fmt.Errorf("wire: want bytes type, got %v", typ)
	}
	s, n := protowire.ConsumeString(v)
	if n < 0 {
		return "", protowire.ParseError(n)
	}
	return s, nil
}

// ConsumeBytes reads a length-delimited bytes field value. The returned
// slice is a copy.
func ConsumeBytes(typ protowire.Type, v []byte) ([]byte, error) {
	if typ != protowire.BytesType {
		return nil, fmt.Errorf("wire: want bytes type, got %v", typ)
	}
	p, n := protowire.ConsumeBytes(v)
	if n < 0 {
		return nil, protowire.ParseError(n)
	}
	out := make([]byte, len(p))
	copy(out, p)
	return out, nil
}

// ConsumeInt64 reads a varint field value.
func ConsumeInt64(typ protowire.Type, v []byte) (int64, error) {
	if typ != protowire.VarintType {
		return 0, fmt.Errorf("wire: want varint type, got %v", typ)
	}
	u, n := protowire.ConsumeVarint(v)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return int64(u), nil
}

// ConsumeBool reads a varint field value as a bool.
func ConsumeBool(typ protowire.Type, v []byte) (bool, error) {
	u, err := ConsumeInt64(typ, v)
	if err != nil {
		return false, err
	}
	return u != 0, nil
}
