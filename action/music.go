package action

import (
	"fmt"
	"math"
	"time"

	"github.com/linchenxuan/slingshot/bitstream"
)

const (
	timestampCountBits = 4
	// MaxTimestamps is the largest timestamp list that fits the 4-bit count.
	MaxTimestamps = 1<<timestampCountBits - 1
)

// StartGameMusicTime synchronizes music start between peers.
// Timestamps travel as whole milliseconds.
type StartGameMusicTime struct {
	StartNow   bool            // Start playback immediately
	Timestamps []time.Duration // Reference times, at most MaxTimestamps
}

func (m StartGameMusicTime) encode(w *bitstream.Writable) {
	w.AppendBool(m.StartNow)
	if len(m.Timestamps) > MaxTimestamps {
		w.Fail(fmt.Errorf("%w: %d timestamps, at most %d", bitstream.ErrOverflow, len(m.Timestamps), MaxTimestamps))
		return
	}
	w.AppendUInt32(uint32(len(m.Timestamps)), timestampCountBits)
	for _, ts := range m.Timestamps {
		ms := ts.Milliseconds()
		if ms < 0 || ms > math.MaxUint32 {
			w.Fail(fmt.Errorf("%w: timestamp %s", bitstream.ErrOverflow, ts))
			return
		}
		w.AppendUInt32(uint32(ms), 32)
	}
}

func decodeStartGameMusicTime(d *decoder) StartGameMusicTime {
	var m StartGameMusicTime
	m.StartNow = d.bool()
	count := d.uint32(timestampCountBits)
	for i := uint32(0); i < count && d.err == nil; i++ {
		m.Timestamps = append(m.Timestamps, time.Duration(d.uint32(32))*time.Millisecond)
	}
	return m
}
