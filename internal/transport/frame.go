package transport

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrBadFrame means a frame was truncated or its header length overran it.
var ErrBadFrame = errors.New("malformed frame")

// EncodeFrame packs header and payload for stream transports:
// uint16 header length | header | payload.
func EncodeFrame(header, payload []byte) ([]byte, error) {
	if len(header) > math.MaxUint16 {
		return nil, ErrBadFrame
	}
	out := make([]byte, 2, 2+len(header)+len(payload))
	binary.LittleEndian.PutUint16(out, uint16(len(header)))
	out = append(out, header...)
	return append(out, payload...), nil
}

// DecodeFrame is the inverse of EncodeFrame. Both results alias frame.
func DecodeFrame(frame []byte) (header, payload []byte, err error) {
	if len(frame) < 2 {
		return nil, nil, ErrBadFrame
	}
	n := int(binary.LittleEndian.Uint16(frame))
	if len(frame) < 2+n {
		return nil, nil, ErrBadFrame
	}
	return frame[2 : 2+n], frame[2+n:], nil
}
