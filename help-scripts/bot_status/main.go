// Command bot_status queries the running bot's status endpoint and
// prints a compact operator summary.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/HCTech2/GOLD-HFT/models"
)

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8099", "status server base URL")
	raw := flag.Bool("json", false, "print the raw JSON snapshot")
	flag.Parse()

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(*addr + "/status")
	if err != nil {
		fmt.Fprintf(os.Stderr, "status request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read failed: %v\n", err)
		os.Exit(1)
	}
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "status %d: %s\n", resp.StatusCode, body)
		os.Exit(1)
	}

	if *raw {
		os.Stdout.Write(body)
		fmt.Println()
		return
	}

	var snap models.StatusSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		fmt.Fprintf(os.Stderr, "bad snapshot: %v\n", err)
		os.Exit(1)
	}
	printSummary(snap)
}

func printSummary(snap models.StatusSnapshot) {
	fmt.Printf("%s  uptime %s  cycles %d\n", snap.Symbol, snap.Uptime, snap.CyclesRun)
	fmt.Printf("tick: bid %.2f / ask %.2f (fresh=%v)\n", snap.LastTick.Bid, snap.LastTick.Ask, snap.LastTick.Fresh)

	trend := snap.TrendBias
	if trend == "" {
		trend = "none"
	}
	fmt.Printf("trend: %s  htf confidence %.0f%%\n", trend, snap.HTFConfidence)
	fmt.Printf("positions: %d open, %d closed\n", snap.OpenPositions, snap.ClosedTrades)

	if snap.Paused {
		fmt.Println("state: PAUSED (bridge degraded)")
	}
	if snap.Risk.CircuitBreakerActive {
		fmt.Printf("circuit breaker: TRIPPED — %s (since %s)\n",
			snap.Risk.CircuitBreakerReason, snap.Risk.CircuitBreakerSince.Format("15:04:05"))
	} else {
		fmt.Printf("risk: daily P&L %.2f$, %d trades today, loss streak %d\n",
			snap.Risk.DailyPnL, snap.Risk.DailyTrades, snap.Risk.ConsecutiveLosses)
	}

	if snap.Sweep.Active {
		fmt.Printf("sweep: %s %s (%s) %d/%d orders, %.0f%%\n",
			snap.Sweep.Direction, snap.Sweep.Phase, snap.Sweep.Speed,
			snap.Sweep.OrdersPlaced, snap.Sweep.MaxOrders, snap.Sweep.ProgressPct)
	}
}
