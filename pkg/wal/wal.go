package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
)

const (
	logFileName = "sync.log"

	// entryHeaderSize is the little-endian uint32 length prefix in front
	// of every payload.
	entryHeaderSize = 4
)

var (
	ErrTooLargeEntry = errors.New("wal: entry is too large")
	ErrTruncatedTail = errors.New("wal: truncated entry at log tail")
)

// Log is an append-only stream of length-prefixed entries. The file is
// opened twice: a writer pinned to end-of-file for appends, and a
// seekable reader used by recovery and replication. Entries are never
// rewritten; the on-disk length always equals the owner's current
// offset.
type Log struct {
	mu     sync.Mutex
	writer *os.File
	reader *os.File
	size   uint32
}

// Open creates dir if needed and opens the log inside it. The reported
// Size is the file length at open time.
func Open(dir string) (*Log, error) {
	if dir == "" {
		return nil, fmt.Errorf("empty log dir")
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	path := filepath.Join(dir, logFileName)
	writer, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open log for append: %w", err)
	}
	st, err := writer.Stat()
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("stat log: %w", err)
	}
	reader, err := os.Open(path)
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("open log for read: %w", err)
	}

	return &Log{
		writer: writer,
		reader: reader,
		size:   uint32(st.Size()),
	}, nil
}

// EntrySize is the number of bytes payload occupies on disk.
func EntrySize(payload []byte) uint32 {
	return entryHeaderSize + uint32(len(payload))
}

// Append writes one length-prefixed entry and returns its on-disk size.
// Prefix and payload go out in a single write.
func (l *Log) Append(payload []byte) (uint32, error) {
	if uint64(len(payload)) > math.MaxUint32-entryHeaderSize {
		return 0, ErrTooLargeEntry
	}

	buf := make([]byte, entryHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[entryHeaderSize:], payload)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.writer.Write(buf); err != nil {
		return 0, fmt.Errorf("append log entry: %w", err)
	}
	l.size += uint32(len(buf))
	return uint32(len(buf)), nil
}

// ReadEntry reads the entry at the reader's position and leaves the
// reader at the next entry. A short read at either step means the tail
// is truncated.
func (l *Log) ReadEntry() ([]byte, error) {
	var hdr [entryHeaderSize]byte
	if _, err := io.ReadFull(l.reader, hdr[:]); err != nil {
		return nil, fmt.Errorf("read entry length: %w", tailError(err))
	}
	length := binary.LittleEndian.Uint32(hdr[:])

	payload := make([]byte, length)
	if _, err := io.ReadFull(l.reader, payload); err != nil {
		return nil, fmt.Errorf("read entry payload: %w", tailError(err))
	}
	return payload, nil
}

// SeekTo positions the reader at an entry boundary.
func (l *Log) SeekTo(offset uint32) error {
	if _, err := l.reader.Seek(int64(offset), io.SeekStart); err != nil {
		return fmt.Errorf("seek log reader: %w", err)
	}
	return nil
}

// Size returns one past the last appended byte.
func (l *Log) Size() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	if l.writer != nil {
		if err := l.writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log writer: %w", err))
		}
		l.writer = nil
	}
	if l.reader != nil {
		if err := l.reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log reader: %w", err))
		}
		l.reader = nil
	}
	return errors.Join(errs...)
}

func tailError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrTruncatedTail
	}
	return err
}
