package ast

import (
	"bytes"
	"encoding/json"
	"io"

	"gitlab.com/tozd/go/errors"
)

// Decode parses one JSON document into a Node. Object keys keep their
// document order and numbers are kept as json.Number.
func Decode(data []byte) (Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	n, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON value")
	}
	return n, nil
}

func decodeValue(dec *json.Decoder) (Node, error) {
	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.WithStack(io.ErrUnexpectedEOF)
		}
		return nil, errors.WithStack(err)
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec)
		case '[':
			return decodeArray(dec)
		}
		return nil, errors.Errorf("unexpected delimiter %q", t)
	default:
		return Scalar{Value: t}, nil
	}
}

func decodeObject(dec *json.Decoder) (*Mapping, error) {
	m := NewMapping()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, errors.Errorf("object key is %T, want string", tok)
		}
		value, err := decodeValue(dec)
		if err != nil {
			return nil, errors.Errorf("field %q: %w", key, err)
		}
		m.Set(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return nil, errors.WithStack(err)
	}
	return m, nil
}

func decodeArray(dec *json.Decoder) (Sequence, error) {
	seq := Sequence{}
	for dec.More() {
		value, err := decodeValue(dec)
		if err != nil {
			return nil, errors.Errorf("index %d: %w", len(seq), err)
		}
		seq = append(seq, value)
	}
	if _, err := dec.Token(); err != nil {
		return nil, errors.WithStack(err)
	}
	return seq, nil
}
