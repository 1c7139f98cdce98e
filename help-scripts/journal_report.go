package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/HCTech2/GOLD-HFT/interfaces"
)

// journal_report summarizes the trade journal: daily P&L, win rate and
// the contribution of sweep-assisted entries.
//
// Usage: go run ./help-scripts -journal journal/trades.jsonl

type dayStats struct {
	Trades int
	Wins   int
	Profit float64
}

type report struct {
	Total      float64
	Trades     int
	Wins       int
	SweepPnL   float64
	SweepCount int
	PerDay     map[string]*dayStats
}

func buildReport(records []interfaces.JournalRecord) report {
	rep := report{PerDay: make(map[string]*dayStats)}
	for _, r := range records {
		rep.Total += r.Profit
		rep.Trades++
		if r.Profit >= 0 {
			rep.Wins++
		}
		if r.SweepPhase != "" {
			rep.SweepPnL += r.Profit
			rep.SweepCount++
		}
		day := r.CloseTime.Format("2006-01-02")
		ds := rep.PerDay[day]
		if ds == nil {
			ds = &dayStats{}
			rep.PerDay[day] = ds
		}
		ds.Trades++
		ds.Profit += r.Profit
		if r.Profit >= 0 {
			ds.Wins++
		}
	}
	return rep
}

func readJournal(path string) ([]interfaces.JournalRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []interfaces.JournalRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec interfaces.JournalRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			fmt.Fprintf(os.Stderr, "line %d skipped: %v\n", line, err)
			continue
		}
		records = append(records, rec)
	}
	return records, sc.Err()
}

func main() {
	journalPath := flag.String("journal", "journal/trades.jsonl", "path to the trade journal")
	flag.Parse()

	records, err := readJournal(*journalPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read journal: %v\n", err)
		os.Exit(1)
	}
	if len(records) == 0 {
		fmt.Println("journal is empty")
		return
	}

	rep := buildReport(records)

	fmt.Printf("Trades: %d | Wins: %d (%.1f%%) | Total P&L: %.2f$\n",
		rep.Trades, rep.Wins, float64(rep.Wins)/float64(rep.Trades)*100, rep.Total)
	if rep.SweepCount > 0 {
		fmt.Printf("Sweep-assisted: %d trades, %.2f$\n", rep.SweepCount, rep.SweepPnL)
	}

	days := make([]string, 0, len(rep.PerDay))
	for d := range rep.PerDay {
		days = append(days, d)
	}
	sort.Strings(days)
	fmt.Println("\nPer day:")
	for _, d := range days {
		ds := rep.PerDay[d]
		fmt.Printf("  %s  %3d trades  %3d wins  %+.2f$\n", d, ds.Trades, ds.Wins, ds.Profit)
	}
}
