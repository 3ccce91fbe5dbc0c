// Package rpc implements the length-framed binary protocol the Query
// endpoint speaks over TCP (spec section 4.3/6): a 4-byte big-endian
// length prefix, a 1-byte opcode, and a msgpack-encoded body.
package rpc

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hashicorp/go-msgpack/v2/codec"
)

// Opcode identifies which operation a frame carries.
type Opcode byte

const (
	OpQuery   Opcode = 1
	OpISearch Opcode = 2
)

// MaxFrameSize bounds the length prefix so a corrupt or hostile length
// field cannot force an unbounded allocation.
const MaxFrameSize = 1 << 20 // 1 MiB

var mh codec.MsgpackHandle

// QueryRequest is the wire body for OpQuery.
type QueryRequest struct {
	Host      string `codec:"host"`
	HasHost   bool   `codec:"has_host"`
	Command   string `codec:"command"`
	HasCmd    bool   `codec:"has_cmd"`
	Exact     bool   `codec:"exact"`
	InDir     string `codec:"in_dir"`
	HasIn     bool   `codec:"has_in"`
	AtDir     string `codec:"at_dir"`
	HasAt     bool   `codec:"has_at"`
	Session   int    `codec:"session"`
	HasSession bool  `codec:"has_session"`
	Status    string `codec:"status"`
	HasStatus bool   `codec:"has_status"`
	Since     int64  `codec:"since"`
	HasSince  bool   `codec:"has_since"`
	Until     int64  `codec:"until"`
	HasUntil  bool   `codec:"has_until"`
	Desc      bool   `codec:"desc"`
	Limit     int    `codec:"limit"`
}

// ISearchRequest is the wire body for OpISearch.
type ISearchRequest struct {
	Command string `codec:"command"`
	Dir     string `codec:"dir"`
	Limit   int    `codec:"limit"`
	Offset  int    `codec:"offset"`
}

// ResultRow mirrors types.ResultRow for the wire; isearch responses
// only populate Argv, per spec section 4.3.
type ResultRow struct {
	EndTime int64  `codec:"end_time"`
	Session int    `codec:"session"`
	Argv    string `codec:"argv"`
	Dir     string `codec:"dir"`
	Host    string `codec:"host"`
}

// QueryResponse carries either a result set or an error, never both.
type QueryResponse struct {
	Rows  []ResultRow    `codec:"rows"`
	Error *ErrorResponse `codec:"error"`
}

// ErrorResponse carries one of the four wire-level classifications
// from spec section 6: InvalidFilename, IoError, SqlError, OtherError.
type ErrorResponse struct {
	Kind    string `codec:"kind"`
	Message string `codec:"message"`
}

// WriteFrame writes one length-prefixed, opcode-tagged, msgpack-encoded
// frame to w.
func WriteFrame(w io.Writer, op Opcode, body any) error {
	var payload []byte
	enc := codec.NewEncoderBytes(&payload, &mh)
	if err := enc.Encode(body); err != nil {
		return fmt.Errorf("rpc: encode frame: %w", err)
	}

	header := make([]byte, 5)
	binary.BigEndian.PutUint32(header[:4], uint32(len(payload)+1))
	header[4] = byte(op)

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(header); err != nil {
		return fmt.Errorf("rpc: write header: %w", err)
	}
	if _, err := bw.Write(payload); err != nil {
		return fmt.Errorf("rpc: write payload: %w", err)
	}
	return bw.Flush()
}

// ReadFrame reads one frame from r, returning its opcode and raw
// msgpack body (decode it with DecodeBody).
func ReadFrame(r io.Reader) (Opcode, []byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, err
	}
	total := binary.BigEndian.Uint32(lenBuf[:])
	if total == 0 || total > MaxFrameSize {
		return 0, nil, fmt.Errorf("rpc: frame length %d out of bounds", total)
	}

	body := make([]byte, total)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, fmt.Errorf("rpc: read frame body: %w", err)
	}

	return Opcode(body[0]), body[1:], nil
}

// DecodeBody decodes a frame's msgpack payload into v.
func DecodeBody(payload []byte, v any) error {
	dec := codec.NewDecoderBytes(payload, &mh)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("rpc: decode frame body: %w", err)
	}
	return nil
}
