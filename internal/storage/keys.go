package storage

import (
	"encoding/binary"
	"fmt"
)

// KeyBuilder encodes composite row keys as a partition byte followed by
// length-prefixed segments. Complete segments keep the prefix property, so
// scanning a partial key visits exactly the rows below it.
type KeyBuilder struct {
	buf []byte
}

// NewKey starts a key in the given partition
func NewKey(partition byte) *KeyBuilder {
	return &KeyBuilder{buf: []byte{partition}}
}

// String appends a length-prefixed string segment
func (k *KeyBuilder) String(s string) *KeyBuilder {
	return k.Bytes([]byte(s))
}

// Bytes appends a length-prefixed segment
func (k *KeyBuilder) Bytes(b []byte) *KeyBuilder {
	k.buf = binary.BigEndian.AppendUint16(k.buf, uint16(len(b)))
	k.buf = append(k.buf, b...)
	return k
}

// Fixed appends a segment of fixed width without a length prefix. Lexical order
// of the segment is preserved.
func (k *KeyBuilder) Fixed(b []byte) *KeyBuilder {
	k.buf = append(k.buf, b...)
	return k
}

// Key returns the encoded key
func (k *KeyBuilder) Key() []byte {
	out := make([]byte, len(k.buf))
	copy(out, k.buf)
	return out
}

// Partition returns the partition byte of an encoded key
func Partition(key []byte) byte {
	if len(key) == 0 {
		return 0
	}
	return key[0]
}

// KeyReader decodes keys produced by KeyBuilder
type KeyReader struct {
	buf []byte
	err error
}

// ReadKey starts decoding after the partition byte
func ReadKey(key []byte) *KeyReader {
	if len(key) == 0 {
		return &KeyReader{err: fmt.Errorf("empty key")}
	}
	return &KeyReader{buf: key[1:]}
}

func (r *KeyReader) String() string {
	return string(r.Bytes())
}

func (r *KeyReader) Bytes() []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf) < 2 {
		r.err = fmt.Errorf("truncated key segment length")
		return nil
	}
	n := int(binary.BigEndian.Uint16(r.buf))
	if len(r.buf) < 2+n {
		r.err = fmt.Errorf("truncated key segment: want %d bytes, have %d", n, len(r.buf)-2)
		return nil
	}
	seg := r.buf[2 : 2+n]
	r.buf = r.buf[2+n:]
	return seg
}

func (r *KeyReader) Fixed(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf) < n {
		r.err = fmt.Errorf("truncated fixed key segment: want %d bytes, have %d", n, len(r.buf))
		return nil
	}
	seg := r.buf[:n]
	r.buf = r.buf[n:]
	return seg
}

func (r *KeyReader) Err() error {
	return r.err
}

// PrefixEnd returns the smallest key greater than every key with the prefix,
// or nil when no such key exists.
func PrefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
