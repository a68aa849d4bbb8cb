// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package listener implements the Receiver side of the filepipe transfer
// pipeline: it accepts connections, dispatches frames per the wire
// protocol, and streams chunks to collision-free destination files under
// the configured receive directory.
package listener

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/nishisan-dev/filepipe/internal/compress"
	"github.com/nishisan-dev/filepipe/internal/config"
	"github.com/nishisan-dev/filepipe/internal/crypto"
	"github.com/nishisan-dev/filepipe/internal/logging"
	"github.com/nishisan-dev/filepipe/internal/pki"
	"github.com/nishisan-dev/filepipe/internal/protocol"
)

// stopJoinTimeout bounds how long Serve waits for in-flight handlers to
// finish after the accepting socket is closed.
const stopJoinTimeout = 5 * time.Second

// ReceivedFile describes a transfer that has fully completed, passed to
// OnFileReceived.
type ReceivedFile struct {
	Path     string
	MimeType string
}

// ProgressRecord mirrors the in-flight transfer state, passed to
// OnProgress after each CHUNK is written.
type ProgressRecord struct {
	Filename        string
	FileSize        uint64
	MimeType        string
	ChunkCount      uint32
	ChunkSize       uint32
	ChunksReceived  uint32
	SavePath        string
}

// Fraction returns ChunksReceived/ChunkCount, or 0 when ChunkCount is 0.
func (r ProgressRecord) Fraction() float64 {
	if r.ChunkCount == 0 {
		return 0
	}
	return float64(r.ChunksReceived) / float64(r.ChunkCount)
}

// Listener accepts filepipe connections and dispatches them to
// per-connection handlers.
type Listener struct {
	cfg    *config.ReceiverConfig
	logger *slog.Logger

	OnFileReceived func(ReceivedFile)
	OnProgress     func(ProgressRecord)

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

// New constructs a Listener bound to cfg. The receive directory is
// created immediately so Start never fails on a missing directory.
func New(cfg *config.ReceiverConfig, logger *slog.Logger) (*Listener, error) {
	if err := os.MkdirAll(cfg.Storage.ReceiveDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating receive directory: %w", err)
	}
	return &Listener{cfg: cfg, logger: logger}, nil
}

// Start binds the configured address and runs the accept loop (Serve) on
// the calling goroutine, with one handler goroutine per connection. It
// blocks until ctx is cancelled, at which point the accepting socket is
// closed and Start waits up to stopJoinTimeout for in-flight handlers;
// handlers still running after that are left to finish on their own.
func (l *Listener) Start(ctx context.Context) error {
	addr := net.JoinHostPort(l.cfg.Listen.Host, fmt.Sprintf("%d", l.cfg.Listen.Port))

	var ln net.Listener
	var err error
	if l.cfg.TLS.Enabled {
		var tlsCfg *tls.Config
		tlsCfg, err = pki.NewServerTLSConfig(l.cfg.TLS.CACert, l.cfg.TLS.ServerCert, l.cfg.TLS.ServerKey)
		if err != nil {
			return fmt.Errorf("configuring TLS: %w", err)
		}
		ln, err = tls.Listen("tcp", addr, tlsCfg)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	return l.Serve(ctx, ln)
}

// Serve runs the accept loop over an already-bound listener. Exposed
// separately from Start so tests can inject a listener bound to an
// ephemeral port.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()

	l.logger.Info("listener started", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		l.logger.Info("shutting down listener")
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				l.waitForHandlers()
				l.logger.Info("listener stopped")
				return nil
			default:
				return fmt.Errorf("accepting connection: %w", err)
			}
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handleConnection(conn)
		}()
	}
}

// waitForHandlers waits up to stopJoinTimeout for in-flight connection
// handlers to finish; it logs and returns rather than blocking forever
// when a handler is stuck on a slow peer.
func (l *Listener) waitForHandlers() {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(stopJoinTimeout):
		l.logger.Warn("stop-join timeout exceeded; handlers still running")
	}
}

func (l *Listener) handleConnection(conn net.Conn) {
	addr := conn.RemoteAddr().String()
	sessionID := uuid.NewString()

	logger, sessionCloser, _, err := logging.NewSessionLogger(l.logger, l.cfg.Logging.SessionLogDir, "receiver", sessionID)
	if err != nil {
		l.logger.Error("creating session logger", "remote", addr, "error", err)
		logger = l.logger
		sessionCloser = nil
	}
	logger = logger.With("session", sessionID, "remote", addr)
	logger.Info("connection accepted")
	defer conn.Close()

	succeeded := false
	if sessionCloser != nil {
		defer func() {
			sessionCloser.Close()
			if succeeded {
				logging.RemoveSessionLog(l.cfg.Logging.SessionLogDir, "receiver", sessionID)
			}
		}()
	}

	session, err := crypto.NewSession(l.cfg.Transfer.AllowEncryption)
	if err != nil {
		logger.Error("initializing crypto session", "error", err)
		return
	}

	var record ProgressRecord
	var file *os.File
	var compression byte
	defer func() {
		if file != nil {
			file.Close()
		}
	}()

	for {
		header, payload, err := protocol.ReadFrame(conn)
		if err != nil {
			if errors.Is(err, protocol.ErrIntegrityMismatch) {
				logger.Warn("frame integrity check failed", "error", err)
				l.sendError(conn, logger, protocol.ErrCodeIntegrity, "integrity check failed")
				return
			}
			logger.Warn("reading frame", "error", err)
			return
		}

		switch header.MessageType {
		case protocol.MsgHandshake:
			hs, err := protocol.ParseHandshakePayload(payload)
			if err != nil {
				logger.Warn("parsing handshake", "error", err)
				return
			}
			logger.Info("handshake", "sender_id", hs.SenderID, "encryption", hs.Encryption)

			if hs.Encryption && l.cfg.Transfer.AllowEncryption {
				peerKey, err := hs.PublicKeyBytes()
				if err != nil || peerKey == nil {
					l.sendError(conn, logger, protocol.ErrCodeBadHandshake, "encryption requested without a usable public key")
					return
				}
				if err := session.CompleteHandshake(peerKey); err != nil {
					l.sendError(conn, logger, protocol.ErrCodeBadHandshake, "key exchange failed")
					return
				}
				if err := l.sendAck(conn, true, "ready", protocol.WithAckSessionID(sessionID), protocol.WithAckPublicKey(session.PublicKey())); err != nil {
					logger.Warn("sending handshake ack", "error", err)
					return
				}
				continue
			}
			// The Sender did not request encryption (or this Receiver does
			// not allow it): chunks on this connection arrive as plaintext.
			session, _ = crypto.NewSession(false)
			if err := l.sendAck(conn, true, "ready", protocol.WithAckSessionID(sessionID)); err != nil {
				logger.Warn("sending handshake ack", "error", err)
				return
			}

		case protocol.MsgFileMeta:
			meta, err := protocol.ParseFileMetaPayload(payload)
			if err != nil {
				logger.Warn("parsing file meta", "error", err)
				return
			}
			if err := validateFilename(meta.Filename); err != nil {
				logger.Warn("rejecting file meta", "filename", meta.Filename, "error", err)
				l.sendError(conn, logger, protocol.ErrCodeInvalidFilename, "invalid filename")
				return
			}
			if err := checkFreeSpace(l.cfg.Storage.ReceiveDir, int64(l.cfg.Storage.MinFreeSpaceRaw)); err != nil {
				logger.Warn("insufficient disk space", "error", err)
				l.sendError(conn, logger, protocol.ErrCodeDiskFull, "receive directory has insufficient free space")
				return
			}

			savePath, err := uniquePath(l.cfg.Storage.ReceiveDir, meta.Filename)
			if err != nil {
				logger.Warn("choosing save path", "error", err)
				return
			}
			if err := validatePathInBaseDir(l.cfg.Storage.ReceiveDir, savePath); err != nil {
				logger.Warn("rejecting save path", "error", err)
				l.sendError(conn, logger, protocol.ErrCodeInvalidFilename, "invalid filename")
				return
			}
			f, err := os.Create(savePath)
			if err != nil {
				logger.Error("creating destination file", "path", savePath, "error", err)
				return
			}
			file = f
			compression = meta.Compression

			record = ProgressRecord{
				Filename:   meta.Filename,
				FileSize:   meta.FileSize,
				MimeType:   meta.MimeType,
				ChunkCount: meta.ChunkCount,
				ChunkSize:  meta.ChunkSize,
				SavePath:   savePath,
			}
			logger.Info("receiving file", "filename", meta.Filename, "file_size", meta.FileSize, "chunk_count", meta.ChunkCount, "save_path", savePath)

			if err := l.sendAck(conn, true, "metadata accepted", protocol.WithAckCompression(compression)); err != nil {
				logger.Warn("sending file meta ack", "error", err)
				return
			}

		case protocol.MsgChunk:
			if file == nil {
				l.sendError(conn, logger, protocol.ErrCodeNoMetadata, "no file metadata received")
				return
			}
			chunk, err := protocol.ParseChunkPayload(payload)
			if err != nil {
				logger.Warn("parsing chunk", "error", err)
				return
			}
			decrypted, err := session.Decrypt(chunk.Data)
			if err != nil {
				logger.Warn("decrypting chunk", "index", chunk.Index, "error", err)
				l.sendError(conn, logger, protocol.ErrCodeIntegrity, "decryption failed")
				return
			}
			if compression == protocol.CompressionZstd {
				decrypted, err = compress.Decompress(decrypted)
				if err != nil {
					logger.Warn("decompressing chunk", "index", chunk.Index, "error", err)
					l.sendError(conn, logger, protocol.ErrCodeIntegrity, "decompression failed")
					return
				}
			}

			if _, err := file.Write(decrypted); err != nil {
				logger.Error("writing chunk to disk", "error", err)
				return
			}
			record.ChunksReceived++

			if l.OnProgress != nil {
				l.OnProgress(record)
			}

			if err := l.sendAck(conn, true, fmt.Sprintf("chunk %d ok", chunk.Index)); err != nil {
				logger.Warn("sending chunk ack", "error", err)
				return
			}

		case protocol.MsgDone:
			if file != nil {
				if err := file.Close(); err != nil {
					logger.Error("closing destination file", "error", err)
				}
				file = nil
			}
			logger.Info("transfer complete", "save_path", record.SavePath)
			if err := l.sendAck(conn, true, "file saved"); err != nil {
				logger.Warn("sending done ack", "error", err)
			}
			succeeded = true
			if l.OnFileReceived != nil {
				l.OnFileReceived(ReceivedFile{Path: record.SavePath, MimeType: record.MimeType})
			}
			return

		default:
			logger.Warn("unexpected message type", "type", header.MessageType)
			return
		}
	}
}

func (l *Listener) sendAck(conn net.Conn, success bool, message string, opts ...protocol.AckOption) error {
	payload, err := protocol.BuildAckPayload(success, message, opts...)
	if err != nil {
		return fmt.Errorf("building ack payload: %w", err)
	}
	return protocol.WriteFrame(conn, protocol.MsgAck, payload)
}

func (l *Listener) sendError(conn net.Conn, logger *slog.Logger, code int, reason string) {
	payload, err := protocol.BuildErrorPayload(code, reason)
	if err != nil {
		logger.Error("building error payload", "error", err)
		return
	}
	if err := protocol.WriteFrame(conn, protocol.MsgError, payload); err != nil {
		logger.Warn("sending error frame", "error", err)
	}
}

// uniquePath returns receiveDir/filename if free, otherwise suffixes the
// stem with _1, _2, ... choosing the smallest integer yielding a path
// that did not exist at the moment of check. Best-effort: only one
// connection is expected at a time, so the TOCTOU window is tolerated.
func uniquePath(receiveDir, filename string) (string, error) {
	filename = filepath.Base(filename)
	target := filepath.Join(receiveDir, filename)
	if _, err := os.Stat(target); os.IsNotExist(err) {
		return target, nil
	}

	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	for counter := 1; ; counter++ {
		candidate := filepath.Join(receiveDir, fmt.Sprintf("%s_%d%s", stem, counter, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
}

// checkFreeSpace returns an error when the filesystem holding dir has
// fewer than minFree bytes available. minFree<=0 disables the check.
func checkFreeSpace(dir string, minFree int64) error {
	if minFree <= 0 {
		return nil
	}
	usage, err := disk.Usage(dir)
	if err != nil {
		return fmt.Errorf("checking disk usage for %s: %w", dir, err)
	}
	if int64(usage.Free) < minFree {
		return fmt.Errorf("only %d bytes free, need at least %d", usage.Free, minFree)
	}
	return nil
}
