// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transmitter

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nishisan-dev/filepipe/internal/compress"
	"github.com/nishisan-dev/filepipe/internal/config"
	"github.com/nishisan-dev/filepipe/internal/crypto"
	"github.com/nishisan-dev/filepipe/internal/logging"
	"github.com/nishisan-dev/filepipe/internal/pki"
	"github.com/nishisan-dev/filepipe/internal/protocol"
	"github.com/nishisan-dev/filepipe/internal/ratelimit"
)

const (
	// connectTimeout bounds dialing plus the HANDSHAKE/FILE_META exchange,
	// before any chunk has been acknowledged.
	connectTimeout = 30 * time.Second
	// ackTimeout bounds waiting for the ACK to each CHUNK/DONE frame once
	// the transfer is underway.
	ackTimeout = 10 * time.Second
)

// ErrTransferInProgress is returned by StartTransfer when a transfer is
// already running.
var ErrTransferInProgress = errors.New("transmitter: a transfer is already in progress")

// ErrUnexpectedMessage is raised when a frame other than ACK or ERROR
// arrives while awaiting an acknowledgment.
var ErrUnexpectedMessage = errors.New("transmitter: unexpected message type while awaiting ack")

// PeerError wraps the reason carried by an ERROR frame from the Receiver.
// It is never retried — the Receiver considers the connection unusable.
type PeerError struct {
	Code   int
	Reason string
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("transmitter: peer reported error %d: %s", e.Code, e.Reason)
}

// nackError wraps a failed ACK (success=false). Unlike PeerError, a NACK is
// retried within the chunk's retry budget; it only becomes fatal once
// MaxRetries is exhausted.
type nackError struct{ message string }

func (e *nackError) Error() string {
	return fmt.Sprintf("transmitter: receiver rejected frame: %s", e.message)
}

// Transmitter drives one file transfer at a time against a configured
// Receiver address. The zero value is not usable; construct with New.
type Transmitter struct {
	cfg    *config.SenderConfig
	logger *slog.Logger

	running    atomic.Bool
	cancelFlag atomic.Bool

	progressCh chan Progress
}

// New constructs a Transmitter bound to cfg.
func New(cfg *config.SenderConfig, logger *slog.Logger) *Transmitter {
	return &Transmitter{
		cfg:        cfg,
		logger:     logger,
		progressCh: make(chan Progress, 1),
	}
}

// IsTransferring reports whether a transfer is currently running.
func (t *Transmitter) IsTransferring() bool {
	return t.running.Load()
}

// StartTransfer spawns a transfer of the file at path as a background
// goroutine. It is non-blocking: it either spawns the task or returns
// ErrTransferInProgress immediately when one is already running.
func (t *Transmitter) StartTransfer(path string) error {
	if !t.running.CompareAndSwap(false, true) {
		return ErrTransferInProgress
	}
	t.cancelFlag.Store(false)
	go t.run(path)
	return nil
}

// Cancel requests the running transfer abort at its next chunk boundary.
// It has no effect when no transfer is running, and does not interrupt a
// frame already in flight.
func (t *Transmitter) Cancel() {
	t.cancelFlag.Store(true)
}

// LatestProgress performs a non-blocking receive of the most recent
// Progress snapshot. ok is false when no snapshot has arrived since the
// last call.
func (t *Transmitter) LatestProgress() (p Progress, ok bool) {
	select {
	case p = <-t.progressCh:
		return p, true
	default:
		return Progress{}, false
	}
}

// emit performs a non-blocking send of p, dropping and replacing whatever
// stale snapshot currently occupies the buffer-of-one channel so
// LatestProgress always observes the newest state rather than blocking
// the transfer worker on a slow consumer.
func (t *Transmitter) emit(p Progress) {
	for {
		select {
		case t.progressCh <- p:
			return
		default:
			select {
			case <-t.progressCh:
			default:
			}
		}
	}
}

func (t *Transmitter) run(path string) {
	defer t.running.Store(false)

	transferID := uuid.NewString()
	logger, sessionCloser, _, err := logging.NewSessionLogger(t.logger, t.cfg.Logging.SessionLogDir, "sender", transferID)
	if err != nil {
		t.logger.Error("creating session logger", "transfer_id", transferID, "error", err)
		logger = t.logger
		sessionCloser = nil
	}
	logger = logger.With("transfer_id", transferID, "path", path)

	succeeded := false
	if sessionCloser != nil {
		defer func() {
			sessionCloser.Close()
			if succeeded {
				logging.RemoveSessionLog(t.cfg.Logging.SessionLogDir, "sender", transferID)
			}
		}()
	}

	if err := t.transfer(logger, path); err != nil {
		logger.Error("transfer failed", "error", err)
		t.emit(Progress{Error: err.Error()})
		return
	}
	succeeded = true
}

func (t *Transmitter) transfer(logger *slog.Logger, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	fileSize := uint64(info.Size())

	chunkSize := uint32(t.cfg.Transfer.ChunkSizeRaw)
	if fileSize >= uint64(t.cfg.Transfer.LargeFileThresholdRaw) {
		chunkSize = uint32(t.cfg.Transfer.LargeChunkSizeRaw)
	}
	totalChunks := uint32(fileSize / uint64(chunkSize))
	if fileSize%uint64(chunkSize) != 0 || fileSize == 0 {
		totalChunks++
	}

	session, err := crypto.NewSession(t.cfg.Transfer.Encryption)
	if err != nil {
		return fmt.Errorf("initializing crypto session: %w", err)
	}

	addr := net.JoinHostPort(t.cfg.Receiver.Host, fmt.Sprintf("%d", t.cfg.Receiver.Port))
	logger.Info("connecting", "addr", addr, "tls", t.cfg.TLS.Enabled, "file_size", fileSize, "chunk_size", chunkSize, "total_chunks", totalChunks)

	conn, err := t.dial(addr)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", addr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	throttled := ratelimit.NewWriter(ctx, conn, t.cfg.Transfer.BandwidthLimitRaw)

	if err := conn.SetDeadline(time.Now().Add(connectTimeout)); err != nil {
		return fmt.Errorf("setting connect deadline: %w", err)
	}

	if err := t.doHandshake(conn, session); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	compression := byte(protocol.CompressionNone)
	if t.cfg.Transfer.Compression {
		compression = protocol.CompressionZstd
	}
	if err := t.sendFileMeta(conn, path, fileSize, chunkSize, totalChunks, compression); err != nil {
		return fmt.Errorf("file meta: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var bytesSent uint64
	buf := make([]byte, chunkSize)
	for index := uint32(0); index < totalChunks; index++ {
		if t.cancelFlag.Load() {
			return fmt.Errorf("transfer cancelled at chunk %d/%d", index, totalChunks)
		}

		n, readErr := f.Read(buf)
		if readErr != nil && n == 0 {
			// An empty file still produces one CHUNK frame carrying zero
			// bytes: os.File.Read reports io.EOF immediately with n==0,
			// which is expected here, not a transport failure.
			if !(fileSize == 0 && index == 0) {
				return fmt.Errorf("reading chunk %d: %w", index, readErr)
			}
		}
		chunkData := buf[:n]
		if compression == protocol.CompressionZstd {
			chunkData = compress.Compress(chunkData)
		}
		encrypted, err := session.Encrypt(chunkData)
		if err != nil {
			return fmt.Errorf("encrypting chunk %d: %w", index, err)
		}

		if err := t.sendChunkWithRetry(conn, throttled, index, encrypted); err != nil {
			return fmt.Errorf("sending chunk %d: %w", index, err)
		}

		bytesSent += uint64(n)
		t.emit(Progress{
			ChunksSent:  index + 1,
			TotalChunks: totalChunks,
			BytesSent:   bytesSent,
			TotalBytes:  fileSize,
		})
	}

	if err := t.sendDone(conn); err != nil {
		return fmt.Errorf("done: %w", err)
	}

	logger.Info("transfer complete", "bytes_sent", bytesSent)
	t.emit(Progress{
		ChunksSent:  totalChunks,
		TotalChunks: totalChunks,
		BytesSent:   bytesSent,
		TotalBytes:  fileSize,
		Done:        true,
	})
	return nil
}

// dial opens the transport to the Receiver, upgrading to mutual TLS when
// cfg.TLS.Enabled. A plain TCP connection is used otherwise, matching the
// Receiver's own optional TLS listener.
func (t *Transmitter) dial(addr string) (net.Conn, error) {
	if !t.cfg.TLS.Enabled {
		return net.DialTimeout("tcp", addr, connectTimeout)
	}

	tlsCfg, err := pki.NewClientTLSConfig(t.cfg.TLS.CACert, t.cfg.TLS.ClientCert, t.cfg.TLS.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("configuring TLS: %w", err)
	}

	dialer := &net.Dialer{Timeout: connectTimeout}
	return tls.DialWithDialer(dialer, "tcp", addr, tlsCfg)
}

func (t *Transmitter) doHandshake(conn net.Conn, session *crypto.Session) error {
	payload, err := protocol.BuildHandshakePayload(t.cfg.Sender.ID, session.Enabled(), session.PublicKey())
	if err != nil {
		return fmt.Errorf("building handshake payload: %w", err)
	}
	if err := protocol.WriteFrame(conn, protocol.MsgHandshake, payload); err != nil {
		return fmt.Errorf("writing handshake frame: %w", err)
	}

	ack, err := t.awaitAck(conn)
	if err != nil {
		return err
	}
	if !session.Enabled() {
		return nil
	}

	peerKey, err := ack.PublicKeyBytes()
	if err != nil {
		return fmt.Errorf("decoding peer public key: %w", err)
	}
	if peerKey == nil {
		return fmt.Errorf("receiver did not negotiate encryption")
	}
	return session.CompleteHandshake(peerKey)
}

func (t *Transmitter) sendFileMeta(conn net.Conn, path string, fileSize uint64, chunkSize uint32, totalChunks uint32, compression byte) error {
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	payload, err := protocol.BuildFileMetaPayload(protocol.FileMetaPayload{
		Filename:    filepath.Base(path),
		FileSize:    fileSize,
		MimeType:    mimeType,
		ChunkCount:  totalChunks,
		ChunkSize:   chunkSize,
		Compression: compression,
	})
	if err != nil {
		return fmt.Errorf("building file meta payload: %w", err)
	}
	if err := protocol.WriteFrame(conn, protocol.MsgFileMeta, payload); err != nil {
		return fmt.Errorf("writing file meta frame: %w", err)
	}
	_, err = t.awaitAck(conn)
	return err
}

// sendChunkWithRetry sends one CHUNK frame, making at most MaxRetries
// attempts in total and resending on timeout, transport error, or NACK.
// A MsgError frame or an unexpected message type is immediately fatal
// without retry.
func (t *Transmitter) sendChunkWithRetry(conn net.Conn, w io.Writer, index uint32, data []byte) error {
	payload := protocol.BuildChunkPayload(index, data)

	var lastErr error
	for attempt := 0; attempt < t.cfg.Transfer.MaxRetries; attempt++ {
		if attempt > 0 {
			t.logger.Warn("retrying chunk", "index", index, "attempt", attempt, "error", lastErr)
		}

		if err := protocol.WriteFrame(w, protocol.MsgChunk, payload); err != nil {
			lastErr = err
			continue
		}
		if err := conn.SetDeadline(time.Now().Add(ackTimeout)); err != nil {
			return fmt.Errorf("setting ack deadline: %w", err)
		}

		_, err := t.awaitAck(conn)
		if err == nil {
			return nil
		}

		var peerErr *PeerError
		if errors.As(err, &peerErr) || errors.Is(err, ErrUnexpectedMessage) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("exhausted %d retries: %w", t.cfg.Transfer.MaxRetries, lastErr)
}

func (t *Transmitter) sendDone(conn net.Conn) error {
	payload, err := protocol.BuildDonePayload()
	if err != nil {
		return fmt.Errorf("building done payload: %w", err)
	}
	if err := conn.SetDeadline(time.Now().Add(ackTimeout)); err != nil {
		return fmt.Errorf("setting ack deadline: %w", err)
	}
	if err := protocol.WriteFrame(conn, protocol.MsgDone, payload); err != nil {
		return fmt.Errorf("writing done frame: %w", err)
	}
	_, err = t.awaitAck(conn)
	return err
}

// awaitAck reads the next frame and expects it to be ACK. A success=false
// ACK is returned as a *nackError (retriable by the caller); an ERROR
// frame is returned as a *PeerError (fatal, never retried).
func (t *Transmitter) awaitAck(conn net.Conn) (protocol.AckPayload, error) {
	header, payload, err := protocol.ReadFrame(conn)
	if err != nil {
		return protocol.AckPayload{}, fmt.Errorf("reading ack frame: %w", err)
	}

	switch header.MessageType {
	case protocol.MsgAck:
		ack, err := protocol.ParseAckPayload(payload)
		if err != nil {
			return ack, err
		}
		if !ack.Success {
			return ack, &nackError{message: ack.Message}
		}
		return ack, nil
	case protocol.MsgError:
		errPayload, err := protocol.ParseErrorPayload(payload)
		if err != nil {
			return protocol.AckPayload{}, err
		}
		return protocol.AckPayload{}, &PeerError{Code: errPayload.ErrorCode, Reason: errPayload.Reason}
	default:
		return protocol.AckPayload{}, ErrUnexpectedMessage
	}
}
