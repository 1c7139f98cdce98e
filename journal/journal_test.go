package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/HCTech2/GOLD-HFT/interfaces"
)

func readLines(t *testing.T, path string) []interfaces.JournalRecord {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer f.Close()

	var out []interfaces.JournalRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec interfaces.JournalRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("bad journal line %q: %v", sc.Text(), err)
		}
		out = append(out, rec)
	}
	return out
}

func TestRecordAppendsOneLinePerTicket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades", "journal.jsonl")
	j, err := NewFileJournal(path, nil)
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	defer j.Close()

	first := interfaces.JournalRecord{Ticket: 1, Direction: "BUY", Profit: 12.5, SweepPhase: "wave_2_pullback"}
	if err := j.Record(first); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := j.Record(interfaces.JournalRecord{Ticket: 2, Direction: "SELL", Profit: -4}); err != nil {
		t.Fatalf("record: %v", err)
	}
	// duplicate close notification for ticket 1 must be a no-op
	if err := j.Record(interfaces.JournalRecord{Ticket: 1, Profit: 999}); err != nil {
		t.Fatalf("duplicate record: %v", err)
	}

	lines := readLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if lines[0].Ticket != 1 || lines[0].Profit != 12.5 || lines[0].SweepPhase != "wave_2_pullback" {
		t.Fatalf("first line = %+v", lines[0])
	}
	if lines[1].Ticket != 2 || lines[1].Profit != -4 {
		t.Fatalf("second line = %+v", lines[1])
	}
}

func TestJournalSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")

	j, err := NewFileJournal(path, nil)
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	if err := j.Record(interfaces.JournalRecord{Ticket: 10, Profit: 3}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// double close is harmless
	if err := j.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	// a restart appends instead of truncating
	j2, err := NewFileJournal(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := j2.Record(interfaces.JournalRecord{Ticket: 11, Profit: 7}); err != nil {
		t.Fatalf("record after reopen: %v", err)
	}
	j2.Close()

	lines := readLines(t, path)
	if len(lines) != 2 || lines[0].Ticket != 10 || lines[1].Ticket != 11 {
		t.Fatalf("lines = %+v", lines)
	}
}
