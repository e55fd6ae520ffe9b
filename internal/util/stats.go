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

// Stats is the process-wide traffic/channel counter.
var Stats = &stats{}

type stats struct {
	OpenedChannels atomic.Int64 // cumulative count of channels since process start
	ClosedChannels atomic.Int64 // cumulative count of closed channels since process start
	FramesSent     atomic.Int64 // frames handed to the network by write pumps
	FramesRecv     atomic.Int64 // frames decoded by read loops
	BytesSent      atomic.Int64
	BytesRecv      atomic.Int64
}

func (s *stats) AddChannel()    { s.OpenedChannels.Add(1) }
func (s *stats) RemoveChannel() { s.ClosedChannels.Add(1) }
func (s *stats) AddSent(n int)  { s.FramesSent.Add(1); s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int)  { s.BytesRecv.Add(int64(n)) }
func (s *stats) AddFrameRecv()  { s.FramesRecv.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

const reportInterval = 10 * time.Second

// StartStatsReporter launches a goroutine that logs transport statistics
// every 10 seconds. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(reportInterval)
		defer ticker.Stop()

		var prevSent, prevRecv, prevOpened, prevClosed, prevFrames int64
		for {
			select {
			case <-ticker.C:
				opened := Stats.OpenedChannels.Load()
				closed := Stats.ClosedChannels.Load()
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()
				frames := Stats.FramesSent.Load() + Stats.FramesRecv.Load()

				secs := reportInterval.Seconds()
				outS := float64(sent-prevSent) / secs
				inS := float64(recv-prevRecv) / secs
				upC := opened - prevOpened
				downC := closed - prevClosed

				if upC > 0 || downC > 0 || frames != prevFrames {
					pterm.DefaultLogger.Info(formatStats(inS, outS, upC, downC, frames-prevFrames))
				}

				prevSent = sent
				prevRecv = recv
				prevOpened = opened
				prevClosed = closed
				prevFrames = frames

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
func formatStats(inS, outS float64, upC, downC, frames int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Chan: %2d↑ %2d↓ | Frames: %d",
		formatBytes(inS),
		formatBytes(outS),
		upC,
		downC,
		frames,
	)
}
