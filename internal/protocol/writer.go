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

// BuildHeader builds the fixed 256-byte header for a frame carrying payload
// under messageType. The returned buffer is exactly HeaderSize bytes.
func BuildHeader(messageType byte, payload []byte) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], Magic[:])
	buf[4] = Version
	buf[5] = messageType
	binary.BigEndian.PutUint32(buf[6:10], uint32(len(payload)))
	digest := sha256Sum(payload)
	copy(buf[10:42], digest[:])
	// buf[42:256] stays zero — reserved padding.
	return buf
}

// WriteFrame writes header + payload as one logical frame to w.
func WriteFrame(w io.Writer, messageType byte, payload []byte) error {
	header := BuildHeader(messageType, payload)
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("writing frame payload: %w", err)
		}
	}
	return nil
}

// BuildHandshakePayload encodes a HandshakePayload as UTF-8 JSON.
func BuildHandshakePayload(senderID string, encryption bool, publicKey []byte) ([]byte, error) {
	p := HandshakePayload{SenderID: senderID, Encryption: encryption}
	if encryption {
		p.PublicKey = base64.StdEncoding.EncodeToString(publicKey)
	}
	return json.Marshal(p)
}

// BuildFileMetaPayload encodes a FileMetaPayload as UTF-8 JSON.
func BuildFileMetaPayload(p FileMetaPayload) ([]byte, error) {
	return json.Marshal(p)
}

// BuildChunkPayload encodes a CHUNK payload: 4-byte big-endian index
// followed by the opaque chunk bytes.
func BuildChunkPayload(index uint32, data []byte) []byte {
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf[0:4], index)
	copy(buf[4:], data)
	return buf
}

// AckOption customizes fields of an AckPayload beyond Success/Message.
type AckOption func(*AckPayload)

// WithAckSessionID sets SessionID on the ACK answering HANDSHAKE.
func WithAckSessionID(sessionID string) AckOption {
	return func(p *AckPayload) { p.SessionID = sessionID }
}

// WithAckPublicKey sets PublicKey (base64-encoded) on the ACK answering
// HANDSHAKE when encryption was negotiated.
func WithAckPublicKey(publicKey []byte) AckOption {
	return func(p *AckPayload) { p.PublicKey = base64.StdEncoding.EncodeToString(publicKey) }
}

// WithAckCompression echoes the negotiated compression mode on the ACK
// answering FILE_META.
func WithAckCompression(mode byte) AckOption {
	return func(p *AckPayload) { p.Compression = mode }
}

// BuildAckPayload encodes an AckPayload as UTF-8 JSON.
func BuildAckPayload(success bool, message string, opts ...AckOption) ([]byte, error) {
	p := AckPayload{Success: success, Message: message}
	for _, opt := range opts {
		opt(&p)
	}
	return json.Marshal(p)
}

// BuildErrorPayload encodes an ErrorPayload as UTF-8 JSON.
func BuildErrorPayload(code int, reason string) ([]byte, error) {
	return json.Marshal(ErrorPayload{ErrorCode: code, Reason: reason})
}

// BuildDonePayload encodes the DONE payload as UTF-8 JSON.
func BuildDonePayload() ([]byte, error) {
	return json.Marshal(DonePayload{Status: "complete"})
}
