// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package listener

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nishisan-dev/filepipe/internal/config"
	"github.com/nishisan-dev/filepipe/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestListener(t *testing.T) (*Listener, net.Listener) {
	t.Helper()
	cfg := &config.ReceiverConfig{
		Storage: config.StorageConfig{ReceiveDir: t.TempDir()},
	}
	l, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return l, ln
}

func dialAndRecvFrame(t *testing.T, conn net.Conn) (byte, []byte) {
	t.Helper()
	h, payload, err := protocol.ReadFrame(conn)
	if err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	return h.MessageType, payload
}

func sendFrame(t *testing.T, conn net.Conn, msgType byte, payload []byte) {
	t.Helper()
	if err := protocol.WriteFrame(conn, msgType, payload); err != nil {
		t.Fatalf("writing frame: %v", err)
	}
}

// TestListener_SmallFile mirrors spec scenario S1.
func TestListener_SmallFile(t *testing.T) {
	l, ln := newTestListener(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan ReceivedFile, 1)
	l.OnFileReceived = func(f ReceivedFile) { received <- f }

	go l.Serve(ctx, ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hs, _ := protocol.BuildHandshakePayload("sender-1", false, nil)
	sendFrame(t, conn, protocol.MsgHandshake, hs)
	mt, _ := dialAndRecvFrame(t, conn)
	if mt != protocol.MsgAck {
		t.Fatalf("expected ack, got %d", mt)
	}

	meta, _ := protocol.BuildFileMetaPayload(protocol.FileMetaPayload{
		Filename: "hello.txt", FileSize: 5, MimeType: "text/plain", ChunkCount: 1, ChunkSize: 65536,
	})
	sendFrame(t, conn, protocol.MsgFileMeta, meta)
	mt, _ = dialAndRecvFrame(t, conn)
	if mt != protocol.MsgAck {
		t.Fatalf("expected ack, got %d", mt)
	}

	chunk := protocol.BuildChunkPayload(0, []byte("hello"))
	sendFrame(t, conn, protocol.MsgChunk, chunk)
	mt, _ = dialAndRecvFrame(t, conn)
	if mt != protocol.MsgAck {
		t.Fatalf("expected ack, got %d", mt)
	}

	done, _ := protocol.BuildDonePayload()
	sendFrame(t, conn, protocol.MsgDone, done)
	mt, _ = dialAndRecvFrame(t, conn)
	if mt != protocol.MsgAck {
		t.Fatalf("expected ack, got %d", mt)
	}

	select {
	case f := <-received:
		contents, err := os.ReadFile(f.Path)
		if err != nil {
			t.Fatalf("reading received file: %v", err)
		}
		if string(contents) != "hello" {
			t.Errorf("expected file contents %q, got %q", "hello", contents)
		}
		if !strings.Contains(f.MimeType, "text/") {
			t.Errorf("expected mime type containing text/, got %q", f.MimeType)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for on_file_received callback")
	}
}

// TestListener_EmptyFile mirrors spec scenario S2.
func TestListener_EmptyFile(t *testing.T) {
	l, ln := newTestListener(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan ReceivedFile, 1)
	l.OnFileReceived = func(f ReceivedFile) { received <- f }
	go l.Serve(ctx, ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hs, _ := protocol.BuildHandshakePayload("sender-1", false, nil)
	sendFrame(t, conn, protocol.MsgHandshake, hs)
	dialAndRecvFrame(t, conn)

	meta, _ := protocol.BuildFileMetaPayload(protocol.FileMetaPayload{
		Filename: "empty.bin", FileSize: 0, MimeType: "application/octet-stream", ChunkCount: 1, ChunkSize: 65536,
	})
	sendFrame(t, conn, protocol.MsgFileMeta, meta)
	dialAndRecvFrame(t, conn)

	chunk := protocol.BuildChunkPayload(0, nil)
	sendFrame(t, conn, protocol.MsgChunk, chunk)
	dialAndRecvFrame(t, conn)

	done, _ := protocol.BuildDonePayload()
	sendFrame(t, conn, protocol.MsgDone, done)
	dialAndRecvFrame(t, conn)

	select {
	case f := <-received:
		info, err := os.Stat(f.Path)
		if err != nil {
			t.Fatalf("stat received file: %v", err)
		}
		if info.Size() != 0 {
			t.Errorf("expected empty destination file, got %d bytes", info.Size())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for on_file_received callback")
	}
}

// TestUniquePath_Collision mirrors spec testable property 7 / scenario S5.
func TestUniquePath_Collision(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "report.pdf"), []byte("original"), 0o644); err != nil {
		t.Fatalf("seeding collision file: %v", err)
	}

	path, err := uniquePath(dir, "report.pdf")
	if err != nil {
		t.Fatalf("uniquePath: %v", err)
	}
	if filepath.Base(path) != "report_1.pdf" {
		t.Errorf("expected report_1.pdf, got %s", filepath.Base(path))
	}

	if err := os.WriteFile(path, []byte("second"), 0o644); err != nil {
		t.Fatalf("seeding second collision file: %v", err)
	}
	path2, err := uniquePath(dir, "report.pdf")
	if err != nil {
		t.Fatalf("uniquePath: %v", err)
	}
	if filepath.Base(path2) != "report_2.pdf" {
		t.Errorf("expected report_2.pdf, got %s", filepath.Base(path2))
	}

	original, err := os.ReadFile(filepath.Join(dir, "report.pdf"))
	if err != nil {
		t.Fatalf("reading original: %v", err)
	}
	if string(original) != "original" {
		t.Errorf("original file was modified: %q", original)
	}
}

// TestListener_IntegrityFailure mirrors spec scenario S6: a tampered
// payload digest must yield an ERROR frame and connection close.
func TestListener_IntegrityFailure(t *testing.T) {
	l, ln := newTestListener(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Serve(ctx, ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	payload := []byte("hello")
	header := protocol.BuildHeader(protocol.MsgHandshake, payload)
	tampered := append([]byte{}, payload...)
	tampered[0] ^= 0xFF

	if _, err := conn.Write(header); err != nil {
		t.Fatalf("writing header: %v", err)
	}
	if _, err := conn.Write(tampered); err != nil {
		t.Fatalf("writing tampered payload: %v", err)
	}

	mt, errPayload := dialAndRecvFrame(t, conn)
	if mt != protocol.MsgError {
		t.Fatalf("expected error frame, got %d", mt)
	}
	e, err := protocol.ParseErrorPayload(errPayload)
	if err != nil {
		t.Fatalf("parsing error payload: %v", err)
	}
	if e.ErrorCode != protocol.ErrCodeIntegrity {
		t.Errorf("expected error code %d, got %d", protocol.ErrCodeIntegrity, e.ErrorCode)
	}
}

// TestListener_RejectsTraversalFilename verifies a FILE_META filename
// attempting path traversal is rejected before any file is created.
func TestListener_RejectsTraversalFilename(t *testing.T) {
	l, ln := newTestListener(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Serve(ctx, ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hs, _ := protocol.BuildHandshakePayload("sender-1", false, nil)
	sendFrame(t, conn, protocol.MsgHandshake, hs)
	dialAndRecvFrame(t, conn)

	meta, _ := protocol.BuildFileMetaPayload(protocol.FileMetaPayload{
		Filename: "..", FileSize: 1, MimeType: "application/octet-stream", ChunkCount: 1, ChunkSize: 65536,
	})
	sendFrame(t, conn, protocol.MsgFileMeta, meta)

	mt, errPayload := dialAndRecvFrame(t, conn)
	if mt != protocol.MsgError {
		t.Fatalf("expected error frame, got %d", mt)
	}
	e, _ := protocol.ParseErrorPayload(errPayload)
	if e.ErrorCode != protocol.ErrCodeInvalidFilename {
		t.Errorf("expected error code %d, got %d", protocol.ErrCodeInvalidFilename, e.ErrorCode)
	}
}

// TestListener_ChunkWithoutMetadata verifies a CHUNK before FILE_META is
// rejected with ErrCodeNoMetadata.
func TestListener_ChunkWithoutMetadata(t *testing.T) {
	l, ln := newTestListener(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Serve(ctx, ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hs, _ := protocol.BuildHandshakePayload("sender-1", false, nil)
	sendFrame(t, conn, protocol.MsgHandshake, hs)
	dialAndRecvFrame(t, conn)

	chunk := protocol.BuildChunkPayload(0, []byte("x"))
	sendFrame(t, conn, protocol.MsgChunk, chunk)

	mt, errPayload := dialAndRecvFrame(t, conn)
	if mt != protocol.MsgError {
		t.Fatalf("expected error frame, got %d", mt)
	}
	e, _ := protocol.ParseErrorPayload(errPayload)
	if e.ErrorCode != protocol.ErrCodeNoMetadata {
		t.Errorf("expected error code %d, got %d", protocol.ErrCodeNoMetadata, e.ErrorCode)
	}
}
