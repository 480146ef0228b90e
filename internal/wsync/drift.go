package wsync

import (
	"math"
	"time"
)

// Drift correction thresholds, in seconds of divergence from the reference.
const (
	// driftRelease is the band inside which playback is considered in sync;
	// an active correction ends when drift falls below it.
	driftRelease = 0.15
	// driftEngage starts a rate correction once drift exceeds it.
	driftEngage = 0.75
	// driftBoost is the point past which the stronger rate adjustment is
	// used instead of the gentle one.
	driftBoost = 5.0
	// hardSeekDrift is the point past which rate nudging is hopeless and the
	// player jumps straight to the reference position.
	hardSeekDrift = 10.0

	// rateNudge is the gentle rate adjustment used for ordinary drift.
	rateNudge = 0.03
	// rateBoost is the stronger adjustment used once drift passes driftBoost.
	rateBoost = 0.05
)

// Player is the local media player a Corrector steers.
type Player interface {
	CurrentTime() float64
	SetCurrentTime(seconds float64)
	Playing() bool
	SetPlaying(playing bool)
	SetPlaybackRate(rate float64)
}

// Correction reports what a corrector tick did.
type Correction int

const (
	CorrectionNone Correction = iota
	CorrectionRate
	CorrectionHardSeek
)

// Corrector keeps a follower player aligned with the reference player by
// nudging the playback rate, with hysteresis so the rate does not flap:
// a correction engages past one threshold and only releases below a much
// smaller one. Drift too large to nudge away is resolved with a hard seek.
type Corrector struct {
	player      Player
	clockOffset float64 // serverTime - localTime, milliseconds

	state      PlayerState
	haveState  bool
	correcting bool
}

// NewCorrector creates a Corrector steering the given player.
func NewCorrector(p Player) *Corrector {
	return &Corrector{player: p}
}

// ObserveClock records a clock sync sample so reference timestamps can be
// mapped onto the local clock.
func (c *Corrector) ObserveClock(serverTimeMillis float64, localNow time.Time) {
	c.clockOffset = serverTimeMillis - float64(localNow.UnixMilli())
}

// ApplyState adopts a reference state update. Play/pause changes apply
// immediately. Three transitions force an immediate sync instead of waiting
// for the next tick: the first state after acquiring a reference, a
// pause-to-resume transition, and an explicit seek by the reference.
func (c *Corrector) ApplyState(state PlayerState, localNow time.Time) {
	first := !c.haveState
	resumed := c.haveState && !c.state.Playing && state.Playing

	c.state = state
	c.haveState = true

	if c.player.Playing() != state.Playing {
		c.player.SetPlaying(state.Playing)
	}
	if first || resumed || state.Seeked {
		c.ForceSync(localNow)
	}
}

// ForceSync jumps the player straight to the extrapolated reference
// position, abandoning any rate correction in progress. Already-aligned
// players keep their position.
func (c *Corrector) ForceSync(localNow time.Time) {
	if !c.haveState {
		return
	}
	if target := c.targetTime(localNow); c.player.CurrentTime() != target {
		c.player.SetCurrentTime(target)
	}
	c.player.SetPlaybackRate(1)
	c.correcting = false
}

// Tick runs one correction cycle, typically once per second.
func (c *Corrector) Tick(localNow time.Time) Correction {
	if !c.haveState {
		return CorrectionNone
	}

	// A paused reference means an exact state match, not a rate chase:
	// pause, reset the rate, and align the position if it differs.
	if !c.state.Playing {
		if c.player.Playing() {
			c.player.SetPlaying(false)
		}
		c.player.SetPlaybackRate(1)
		c.correcting = false
		if c.player.CurrentTime() != c.state.Time {
			c.player.SetCurrentTime(c.state.Time)
		}
		return CorrectionNone
	}

	drift := c.player.CurrentTime() - c.targetTime(localNow)
	abs := math.Abs(drift)

	if abs > hardSeekDrift {
		c.ForceSync(localNow)
		return CorrectionHardSeek
	}

	if c.correcting {
		if abs <= driftRelease {
			c.player.SetPlaybackRate(1)
			c.correcting = false
			return CorrectionNone
		}
		c.player.SetPlaybackRate(c.rateFor(drift, abs))
		return CorrectionRate
	}

	if abs > driftEngage {
		c.correcting = true
		c.player.SetPlaybackRate(c.rateFor(drift, abs))
		return CorrectionRate
	}

	return CorrectionNone
}

// rateFor picks the adjustment size by drift magnitude and its direction by
// drift sign: ahead of the reference slows down, behind speeds up.
func (c *Corrector) rateFor(drift, abs float64) float64 {
	adjust := rateNudge
	if abs > driftBoost {
		adjust = rateBoost
	}
	if drift > 0 {
		return 1 - adjust
	}
	return 1 + adjust
}

// targetTime extrapolates where the reference player is now, using the
// report's timestamp translated through the observed clock offset.
func (c *Corrector) targetTime(localNow time.Time) float64 {
	target := c.state.Time
	if c.state.Playing {
		serverNow := float64(localNow.UnixMilli()) + c.clockOffset
		target += (serverNow - c.state.Timestamp) / 1000
	}
	return target
}
