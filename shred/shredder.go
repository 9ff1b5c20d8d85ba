package shred

import (
	"bytes"
	"errors"
	"fmt"
)

var ErrTooFewDataShreds = errors.New("too few data shreds")

// Deshred concatenates a contiguous, complete run of data shreds into the
// entry bytes they encode.
func Deshred(shreds []*DataShred) ([]byte, error) {
	if len(shreds) == 0 {
		return nil, ErrTooFewDataShreds
	}

	index := shreds[0].Index
	aligned := true
	for i, s := range shreds {
		if s.Index != index+uint32(i) {
			aligned = false
			break
		}
	}
	last := shreds[len(shreds)-1]
	dataComplete := last.DataComplete() || last.LastInSlot()
	if !dataComplete || !aligned {
		return nil, ErrTooFewDataShreds
	}

	var buf bytes.Buffer
	for _, s := range shreds {
		data, ok := s.Data()
		if !ok {
			return nil, fmt.Errorf("invalid data shred at index %d", s.Index)
		}
		buf.Write(data)
	}
	// TODO Some empty shred handling idk

	return buf.Bytes(), nil
}
