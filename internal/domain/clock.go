package domain

import "time"

// PlaybackPosition reconciles a stored baseline against wall-clock time.
// Paused sessions report the baseline exactly. Playing sessions report
// baseline plus elapsed seconds since the baseline was recorded, floored
// at zero. Drift accumulates only while the host stays silent; every host
// report resets the baseline.
func PlaybackPosition(baseline float64, playing bool, updatedAt, now time.Time) float64 {
	if !playing {
		return baseline
	}
	pos := baseline + now.Sub(updatedAt).Seconds()
	if pos < 0 {
		return 0
	}
	return pos
}

// PositionAt is the clock applied to a session snapshot.
func (s *Session) PositionAt(now time.Time) float64 {
	return PlaybackPosition(s.Position, s.IsPlaying, s.UpdatedAt, now)
}
