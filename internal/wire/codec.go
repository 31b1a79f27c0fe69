package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrMessageTooShort means a message ended inside its fixed header.
	ErrMessageTooShort = errors.New("message too short")
	// ErrTrailerLength means the trailer does not match the length its
	// header announced.
	ErrTrailerLength = errors.New("trailer length mismatch")
	// ErrWrongOpcode means a request was decoded into the header of a
	// different operation.
	ErrWrongOpcode = errors.New("wrong opcode")
)

var byteOrder = binary.LittleEndian

// EncodeRequest lays out RequestCommon, the fixed header and the trailer.
// The trailer is appended without copying.
func EncodeRequest(hdr RequestHeader, trailer []byte) (*Buffer, error) {
	if err := checkTrailer(hdr, len(trailer)); err != nil {
		return nil, fmt.Errorf("encode %s: %w", hdr.Op(), err)
	}
	var fixed bytes.Buffer
	common := RequestCommon{Opcode: hdr.Op(), Service: CoordinatorService}
	if err := binary.Write(&fixed, byteOrder, common); err != nil {
		return nil, err
	}
	if err := binary.Write(&fixed, byteOrder, hdr); err != nil {
		return nil, fmt.Errorf("encode %s: %w", hdr.Op(), err)
	}
	buf := &Buffer{}
	buf.Append(fixed.Bytes())
	buf.Append(trailer)
	return buf, nil
}

// PeekRequestCommon decodes only the common request header.
func PeekRequestCommon(msg []byte) (RequestCommon, error) {
	var common RequestCommon
	if len(msg) < binary.Size(common) {
		return common, ErrMessageTooShort
	}
	err := binary.Read(bytes.NewReader(msg), byteOrder, &common)
	return common, err
}

// DecodeRequest fills hdr, which must be a pointer to a request header, and
// returns the trailer. The returned trailer aliases msg.
func DecodeRequest(msg []byte, hdr RequestHeader) ([]byte, error) {
	common, err := PeekRequestCommon(msg)
	if err != nil {
		return nil, err
	}
	if common.Opcode != hdr.Op() {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrWrongOpcode, common.Opcode, hdr.Op())
	}
	return decodeFixed(msg[binary.Size(common):], hdr)
}

// EncodeResponse lays out ResponseCommon, the fixed header and the trailer.
// For a non-OK status only the common header is written. hdr may be nil for
// operations that return nothing but a status.
func EncodeResponse(status Status, hdr any, trailer []byte) ([]byte, error) {
	var out bytes.Buffer
	if err := binary.Write(&out, byteOrder, ResponseCommon{Status: status}); err != nil {
		return nil, err
	}
	if status != StatusOK || hdr == nil {
		return out.Bytes(), nil
	}
	if err := checkTrailer(hdr, len(trailer)); err != nil {
		return nil, err
	}
	if err := binary.Write(&out, byteOrder, hdr); err != nil {
		return nil, err
	}
	out.Write(trailer)
	return out.Bytes(), nil
}

// DecodeResponseCommon decodes only the status.
func DecodeResponseCommon(msg []byte) (ResponseCommon, error) {
	var common ResponseCommon
	if len(msg) < binary.Size(common) {
		return common, ErrMessageTooShort
	}
	err := binary.Read(bytes.NewReader(msg), byteOrder, &common)
	return common, err
}

// DecodeResponse fills hdr from a successful response and returns the
// trailer. Callers check the status with DecodeResponseCommon first.
func DecodeResponse(msg []byte, hdr any) ([]byte, error) {
	offset := binary.Size(ResponseCommon{})
	if len(msg) < offset {
		return nil, ErrMessageTooShort
	}
	return decodeFixed(msg[offset:], hdr)
}

func decodeFixed(msg []byte, hdr any) ([]byte, error) {
	size := binary.Size(hdr)
	if size < 0 {
		return nil, fmt.Errorf("header %T is not fixed size", hdr)
	}
	if len(msg) < size {
		return nil, ErrMessageTooShort
	}
	if size > 0 {
		if err := binary.Read(bytes.NewReader(msg[:size]), byteOrder, hdr); err != nil {
			return nil, err
		}
	}
	trailer := msg[size:]
	if err := checkTrailer(hdr, len(trailer)); err != nil {
		return nil, err
	}
	return trailer, nil
}

func checkTrailer(hdr any, n int) error {
	want := 0
	if t, ok := hdr.(trailered); ok {
		want = int(t.TrailerLength())
	}
	if want != n {
		return fmt.Errorf("%w: header says %d bytes, have %d", ErrTrailerLength, want, n)
	}
	return nil
}
