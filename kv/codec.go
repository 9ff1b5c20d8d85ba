package kv

import (
	"bytes"

	bin "github.com/gagliardetto/binary"
)

// Encode serializes v with the store's length-prefixed binary codec:
// fixed-width integers little-endian, sequences compact-varint-length
// prefixed, options a one-byte tag followed by the value when present.
// Matches the teacher's use of gagliardetto/binary bincode encoding.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := bin.NewBinEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode deserializes data into a new *T using the same codec.
func Decode[T any](data []byte) (*T, error) {
	dec := bin.NewBinDecoder(data)
	val := new(T)
	if err := dec.Decode(val); err != nil {
		return nil, err
	}
	return val, nil
}

// GetDecoded fetches key from cf and decodes it as a *T.
func GetDecoded[T any](s Store, cf ColumnFamily, key []byte) (*T, error) {
	raw, err := s.Get(cf, key)
	if err != nil {
		return nil, err
	}
	return Decode[T](raw)
}

// PutEncoded encodes v and writes it into batch at key, cf.
func PutEncoded(b Batch, cf ColumnFamily, key []byte, v any) error {
	raw, err := Encode(v)
	if err != nil {
		return err
	}
	b.Put(cf, key, raw)
	return nil
}
