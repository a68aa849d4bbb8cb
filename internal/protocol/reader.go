// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// ParseHeader parses a 256-byte header buffer. It returns ErrInvalidMagic
// or ErrInvalidVersion for malformed buffers and never looks at the
// message type — unknown message types parse through; a caller
// dispatching on Header.MessageType is responsible for rejecting them.
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, ErrTruncatedFrame
	}
	var magic [4]byte
	copy(magic[:], data[0:4])
	if magic != Magic {
		return nil, ErrInvalidMagic
	}
	if data[4] != Version {
		return nil, ErrInvalidVersion
	}

	h := &Header{
		Version:       data[4],
		MessageType:   data[5],
		PayloadLength: binary.BigEndian.Uint32(data[6:10]),
	}
	copy(h.PayloadDigest[:], data[10:42])
	return h, nil
}

// ReadHeader reads exactly HeaderSize bytes from r and parses them.
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	return ParseHeader(buf)
}

// ReadPayload reads exactly n bytes from r. It rejects n above
// MaxPayloadLength before allocating, so a corrupt length field cannot
// force an oversized allocation.
func ReadPayload(r io.Reader, n uint32) ([]byte, error) {
	if n > MaxPayloadLength {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}
	return buf, nil
}

// ReadFrame reads a full frame (header + payload) from r and verifies the
// payload digest, returning ErrIntegrityMismatch on mismatch.
func ReadFrame(r io.Reader) (*Header, []byte, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, nil, err
	}
	payload, err := ReadPayload(r, h.PayloadLength)
	if err != nil {
		return nil, nil, err
	}
	if !h.Verify(payload) {
		return nil, nil, ErrIntegrityMismatch
	}
	return h, payload, nil
}

// ParseHandshakePayload decodes a HANDSHAKE payload. Unknown JSON fields
// are ignored by encoding/json's default unmarshal behavior.
func ParseHandshakePayload(payload []byte) (HandshakePayload, error) {
	var p HandshakePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, fmt.Errorf("parsing handshake payload: %w", err)
	}
	return p, nil
}

// PublicKeyBytes decodes the base64 PublicKey field, if present.
func (p HandshakePayload) PublicKeyBytes() ([]byte, error) {
	if p.PublicKey == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(p.PublicKey)
}

// ParseFileMetaPayload decodes a FILE_META payload.
func ParseFileMetaPayload(payload []byte) (FileMetaPayload, error) {
	var p FileMetaPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, fmt.Errorf("parsing file meta payload: %w", err)
	}
	return p, nil
}

// ParseChunkPayload decodes a CHUNK payload: 4-byte big-endian index
// followed by opaque bytes.
func ParseChunkPayload(payload []byte) (ChunkPayload, error) {
	if len(payload) < 4 {
		return ChunkPayload{}, ErrTruncatedFrame
	}
	return ChunkPayload{
		Index: binary.BigEndian.Uint32(payload[0:4]),
		Data:  payload[4:],
	}, nil
}

// ParseAckPayload decodes an ACK payload.
func ParseAckPayload(payload []byte) (AckPayload, error) {
	var p AckPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, fmt.Errorf("parsing ack payload: %w", err)
	}
	return p, nil
}

// PublicKeyBytes decodes the base64 PublicKey field, if present.
func (p AckPayload) PublicKeyBytes() ([]byte, error) {
	if p.PublicKey == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(p.PublicKey)
}

// ParseErrorPayload decodes an ERROR payload.
func ParseErrorPayload(payload []byte) (ErrorPayload, error) {
	var p ErrorPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, fmt.Errorf("parsing error payload: %w", err)
	}
	return p, nil
}

// ParseDonePayload decodes a DONE payload.
func ParseDonePayload(payload []byte) (DonePayload, error) {
	var p DonePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, fmt.Errorf("parsing done payload: %w", err)
	}
	return p, nil
}
