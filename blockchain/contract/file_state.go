package contract

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"shiporacle/blockchain/types"
)

// FileState persists ledger state under a directory:
//
//	registry.json
//	records/<hex(shipment_id)>.json
//	events.jsonl
//
// The full state is loaded into memory on open and written through on commit.
type FileState struct {
	*MemoryState
	basePath string
}

// OpenFileState opens (or initializes) the state directory at basePath.
func OpenFileState(basePath string) (*FileState, error) {
	if basePath == "" {
		return nil, errors.New("file state requires a base path")
	}
	if err := os.MkdirAll(filepath.Join(basePath, "records"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	s := &FileState{MemoryState: NewMemoryState(), basePath: basePath}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileState) registryPath() string { return filepath.Join(s.basePath, "registry.json") }
func (s *FileState) eventsPath() string   { return filepath.Join(s.basePath, "events.jsonl") }

func (s *FileState) recordPath(shipmentID string) string {
	return filepath.Join(s.basePath, "records", hex.EncodeToString([]byte(shipmentID))+".json")
}

func (s *FileState) load() error {
	if b, err := os.ReadFile(s.registryPath()); err == nil {
		var reg types.Registry
		if err := json.Unmarshal(b, &reg); err != nil {
			return fmt.Errorf("invalid registry file: %w", err)
		}
		s.registry = &reg
	} else if !os.IsNotExist(err) {
		return err
	}

	entries, err := os.ReadDir(filepath.Join(s.basePath, "records"))
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		b, err := os.ReadFile(filepath.Join(s.basePath, "records", entry.Name()))
		if err != nil {
			return err
		}
		var rec types.ShipmentRecord
		if err := json.Unmarshal(b, &rec); err != nil {
			return fmt.Errorf("invalid record file %s: %w", entry.Name(), err)
		}
		s.records[rec.ShipmentID] = &rec
	}

	f, err := os.Open(s.eventsPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var ev types.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return fmt.Errorf("invalid event log entry: %w", err)
		}
		s.events = append(s.events, ev)
		if ev.Sequence > s.lastSeq {
			s.lastSeq = ev.Sequence
		}
		if ev.Timestamp > s.lastTS {
			s.lastTS = ev.Timestamp
		}
	}
	return scanner.Err()
}

// SaveRegistry implements StateStore.
func (s *FileState) SaveRegistry(_ context.Context, reg *types.Registry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registry != nil {
		return ErrRegistryExists
	}
	b, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}
	if err := writeFileAtomic(s.registryPath(), b); err != nil {
		return err
	}
	cp := *reg
	s.registry = &cp
	return nil
}

// Commit implements StateStore. The record is staged in a temp file, the event
// line is appended, then the staged record replaces the old one. Any failure
// after the append truncates the event log back to its previous size, so the
// directory never holds an event without its record.
func (s *FileState) Commit(_ context.Context, rec *types.ShipmentRecord, ev types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	recBytes, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	recPath := s.recordPath(rec.ShipmentID)
	tmp := recPath + ".tmp"
	if err := os.WriteFile(tmp, recBytes, 0o644); err != nil {
		return fmt.Errorf("failed to stage record: %w", err)
	}

	if err := s.appendEvent(line, func() error { return os.Rename(tmp, recPath) }); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	s.apply(rec, ev)
	return nil
}

// appendEvent appends line to the event log and runs publish. The log is cut
// back to its previous size when the append or publish fails.
func (s *FileState) appendEvent(line []byte, publish func() error) (err error) {
	f, err := os.OpenFile(s.eventsPath(), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	defer func() {
		if err == nil {
			return
		}
		if terr := f.Truncate(size); terr != nil {
			err = fmt.Errorf("%w (event log rollback failed: %v)", err, terr)
			return
		}
		_ = f.Sync()
	}()

	if _, err = f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("failed to sync event log: %w", err)
	}
	if err = publish(); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

var _ StateStore = (*FileState)(nil)
