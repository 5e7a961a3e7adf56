package wal

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

const (
	checkpointFileName = "applied.log"
	checkpointTempName = "applied.tmp"
)

// Checkpoint persists the applied offset next to the log. Writes go
// through a temp file and a rename, so the canonical file always holds
// four complete bytes.
type Checkpoint struct {
	path string
	tmp  string
}

func NewCheckpoint(dir string) *Checkpoint {
	dir = filepath.Clean(dir)
	return &Checkpoint{
		path: filepath.Join(dir, checkpointFileName),
		tmp:  filepath.Join(dir, checkpointTempName),
	}
}

// Load returns the persisted offset. A missing file is not an error;
// ok reports whether a checkpoint was present.
func (c *Checkpoint) Load() (offset uint32, ok bool, err error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("read checkpoint: %w", err)
	}
	if len(data) != 4 {
		return 0, false, fmt.Errorf("checkpoint is %d bytes, want 4", len(data))
	}
	return binary.LittleEndian.Uint32(data), true, nil
}

func (c *Checkpoint) Store(offset uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], offset)
	if err := os.WriteFile(c.tmp, buf[:], 0600); err != nil {
		return fmt.Errorf("write checkpoint temp: %w", err)
	}
	if err := os.Rename(c.tmp, c.path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}
