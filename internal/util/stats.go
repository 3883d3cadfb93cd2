package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide traffic/connection counter.
var Stats = &stats{}

type stats struct {
	TotalConns   atomic.Int64 // cumulative bridged TCP connections
	ClosedConns  atomic.Int64 // cumulative closed TCP connections
	BytesUp      atomic.Int64 // cumulative bytes written to the relay
	BytesDown    atomic.Int64 // cumulative bytes read from the relay
	Datagrams    atomic.Int64 // cumulative UDP datagrams relayed in either direction
	ProbesSent   atomic.Int64 // cumulative ESP liveness probes sent
	ProbesFailed atomic.Int64 // cumulative probes without a valid reply
}

func (s *stats) AddConn()         { s.TotalConns.Add(1) }
func (s *stats) RemoveConn()      { s.ClosedConns.Add(1) }
func (s *stats) AddUp(n int64)    { s.BytesUp.Add(n) }
func (s *stats) AddDown(n int64)  { s.BytesDown.Add(n) }
func (s *stats) AddDatagram()     { s.Datagrams.Add(1) }
func (s *stats) AddProbe()        { s.ProbesSent.Add(1) }
func (s *stats) AddProbeFailure() { s.ProbesFailed.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs tunnel statistics
// every 10 seconds. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevUp, prevDown, prevTotal, prevClosed, prevDgrams, prevFailed int64
		for {
			select {
			case <-ticker.C:
				total := Stats.TotalConns.Load()
				closed := Stats.ClosedConns.Load()
				up := Stats.BytesUp.Load()
				down := Stats.BytesDown.Load()
				dgrams := Stats.Datagrams.Load()
				failed := Stats.ProbesFailed.Load()

				upS := float64(up-prevUp) / 10.0
				downS := float64(down-prevDown) / 10.0
				inC := total - prevTotal
				outC := closed - prevClosed
				dgC := dgrams - prevDgrams

				if inC > 0 || outC > 0 || dgC > 0 || upS > 10 || downS > 10 {
					pterm.DefaultLogger.Info(formatStats(upS, downS, inC, outC, dgC))
				}
				if failed > prevFailed {
					pterm.DefaultLogger.Warn(fmt.Sprintf("liveness probes failed: %d of %d", failed, Stats.ProbesSent.Load()))
				}

				prevUp = up
				prevDown = down
				prevTotal = total
				prevClosed = closed
				prevDgrams = dgrams
				prevFailed = failed

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(upS, downS float64, inC, outC, dgrams int64) string {
	return fmt.Sprintf("Up: %s/s | Down: %s/s | Conn: %2d↑ %2d↓ | UDP: %d dgrams",
		formatBytes(upS),
		formatBytes(downS),
		inC,
		outC,
		dgrams,
	)
}
