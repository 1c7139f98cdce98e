package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/HCTech2/GOLD-HFT/interfaces"
	"github.com/HCTech2/GOLD-HFT/logging"
)

// FileJournal appends one JSON line per closed trade. Records are never
// mutated after emission; duplicate tickets are dropped.
type FileJournal struct {
	mu     sync.Mutex
	file   *os.File
	enc    *json.Encoder
	seen   map[int64]bool
	logger logging.LoggerInterface
}

var _ interfaces.TradeJournal = (*FileJournal)(nil)

// NewFileJournal opens (creating if needed) the journal file in append
// mode.
func NewFileJournal(path string, logger logging.LoggerInterface) (*FileJournal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file %q: %w", path, err)
	}
	return &FileJournal{
		file:   f,
		enc:    json.NewEncoder(f),
		seen:   make(map[int64]bool),
		logger: logger,
	}, nil
}

// Record appends one journal line. Exactly one line per ticket: repeats
// are ignored so a duplicate close notification cannot double-write.
func (j *FileJournal) Record(rec interfaces.JournalRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.seen[rec.Ticket] {
		if j.logger != nil {
			j.logger.Warning("Ticket %d déjà journalisé, doublon ignoré", rec.Ticket)
		}
		return nil
	}
	if err := j.enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to write journal record for ticket %d: %w", rec.Ticket, err)
	}
	j.seen[rec.Ticket] = true
	return nil
}

// Close flushes and closes the underlying file.
func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}
