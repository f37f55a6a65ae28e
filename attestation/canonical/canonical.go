package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Version is the leading byte of every encoded payload.
const Version uint8 = 1

// Payload is the signed subset of a shipment record.
//
// Layout:
//
//	1 byte    version
//	4 + n     shipment id (length-prefixed, UTF-8)
//	4 + m     summary (length-prefixed, UTF-8)
//	4 + 8     confidence score (length-prefixed, int64 little-endian)
//
// All length prefixes are little-endian uint32. The score carries its own
// prefix so every field is decoded the same way.
type Payload struct {
	ShipmentID      string
	Summary         string
	ConfidenceScore int

	raw []byte
}

// Encode returns the canonical bytes for the triple. It never fails and does
// not validate the score range.
func Encode(shipmentID, summary string, confidenceScore int) []byte {
	buf := make([]byte, 0, 1+4+len(shipmentID)+4+len(summary)+4+8)
	buf = append(buf, Version)
	buf = appendLengthPrefixed(buf, []byte(shipmentID))
	buf = appendLengthPrefixed(buf, []byte(summary))

	var score [8]byte
	binary.LittleEndian.PutUint64(score[:], uint64(int64(confidenceScore)))
	buf = appendLengthPrefixed(buf, score[:])
	return buf
}

// New builds a Payload and captures its canonical bytes.
func New(shipmentID, summary string, confidenceScore int) *Payload {
	return &Payload{
		ShipmentID:      shipmentID,
		Summary:         summary,
		ConfidenceScore: confidenceScore,
		raw:             Encode(shipmentID, summary, confidenceScore),
	}
}

// Decode is the strict inverse of Encode.
func Decode(data []byte) (*Payload, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("canonical payload is empty")
	}
	if data[0] != Version {
		return nil, fmt.Errorf("unsupported canonical payload version %d", data[0])
	}

	cursor := 1
	var (
		id, summary, score []byte
		err                error
	)
	if id, cursor, err = readLengthPrefixed(data, cursor); err != nil {
		return nil, fmt.Errorf("decode shipment_id: %w", err)
	}
	if summary, cursor, err = readLengthPrefixed(data, cursor); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	if score, cursor, err = readLengthPrefixed(data, cursor); err != nil {
		return nil, fmt.Errorf("decode confidence_score: %w", err)
	}
	if len(score) != 8 {
		return nil, fmt.Errorf("confidence_score must be 8 bytes, got %d", len(score))
	}
	if cursor != len(data) {
		return nil, fmt.Errorf("canonical payload has %d trailing bytes", len(data)-cursor)
	}

	return &Payload{
		ShipmentID:      string(id),
		Summary:         string(summary),
		ConfidenceScore: int(int64(binary.LittleEndian.Uint64(score))),
		raw:             bytes.Clone(data),
	}, nil
}

// Bytes returns the canonical encoding. Treat the slice as immutable.
func (p *Payload) Bytes() []byte {
	if p.raw == nil {
		p.raw = Encode(p.ShipmentID, p.Summary, p.ConfidenceScore)
	}
	return p.raw
}

// Digest is sha256 over the canonical bytes, used for display and log correlation.
func (p *Payload) Digest() [sha256.Size]byte {
	return sha256.Sum256(p.Bytes())
}

func appendLengthPrefixed(buf, chunk []byte) []byte {
	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(chunk)))
	buf = append(buf, prefix[:]...)
	return append(buf, chunk...)
}

// readLengthPrefixed decodes a little-endian uint32 length followed by that many bytes.
func readLengthPrefixed(data []byte, cursor int) ([]byte, int, error) {
	if len(data) < cursor+4 {
		return nil, cursor, fmt.Errorf("truncated length prefix at offset %d", cursor)
	}
	length := binary.LittleEndian.Uint32(data[cursor : cursor+4])
	cursor += 4

	if uint64(len(data)-cursor) < uint64(length) {
		return nil, cursor, fmt.Errorf("declared length %d exceeds remaining %d bytes", length, len(data)-cursor)
	}
	chunk := data[cursor : cursor+int(length)]
	cursor += int(length)
	return bytes.Clone(chunk), cursor, nil
}
