// Package wire implements the framed wire protocol from spec §6: a 1-byte
// biz_type followed by a length-prefixed JSON body, and every message
// struct the core recognizes.
//
// Grounded on server/datamodel.go's wire-struct conventions (flat structs,
// pointer sub-fields for optional data, constructor helpers for canned
// responses) and server/session.go's serialize/SerialFormat handling for
// the length-prefixed framing idiom.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// BizType identifies the wire message kind.
type BizType byte

const (
	BizAuthorization BizType = 1
	BizPing          BizType = 2
	BizDisconnect    BizType = 3
	BizSubscribe     BizType = 5
	BizSendMessage   BizType = 6
	BizPushMessage   BizType = 7
	BizRPC           BizType = 8
)

const maxFrameLength = 16 << 20 // 16 MiB, generous upper bound on a single frame

// WriteFrame writes a [1-byte biz_type][4-byte big-endian length][body] frame.
func WriteFrame(w io.Writer, biz BizType, body []byte) error {
	header := make([]byte, 5)
	header[0] = byte(biz)
	binary.BigEndian.PutUint32(header[1:], uint32(len(body)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("wire: write header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("wire: write body: %w", err)
	}
	return nil
}

// ReadFrame reads one frame from r.
func ReadFrame(r io.Reader) (BizType, []byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, fmt.Errorf("wire: read header: %w", err)
	}
	biz := BizType(header[0])
	length := binary.BigEndian.Uint32(header[1:])
	if length > maxFrameLength {
		return 0, nil, fmt.Errorf("wire: frame length %d exceeds max %d", length, maxFrameLength)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, fmt.Errorf("wire: read body: %w", err)
	}
	return biz, body, nil
}

// EncodeJSON is a small helper so handler code doesn't repeat the
// marshal-then-WriteFrame pair.
func EncodeJSON(w io.Writer, biz BizType, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: encode %v: %w", biz, err)
	}
	return WriteFrame(w, biz, body)
}
