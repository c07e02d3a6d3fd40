package progress

import "time"

// spinnerFrames are the animation frames cycled by Animator.
var spinnerFrames = []rune{'|', '/', '-', '\\'}

// Animator produces a time-based animation frame for the progress line,
// exposing a reset/current-frame pair.
type Animator struct {
	speed     time.Duration
	startedAt time.Time
}

// NewAnimator builds an Animator advancing one frame every speed interval.
func NewAnimator(speed time.Duration) *Animator {
	if speed <= 0 {
		speed = 80 * time.Millisecond
	}
	return &Animator{speed: speed, startedAt: time.Now()}
}

// Reset restarts the animation from its first frame.
func (a *Animator) Reset() { a.startedAt = time.Now() }

// CurrentFrame returns the animation glyph for "now".
func (a *Animator) CurrentFrame() rune {
	elapsed := time.Since(a.startedAt)
	idx := int(elapsed/a.speed) % len(spinnerFrames)
	if idx < 0 {
		idx = 0
	}
	return spinnerFrames[idx]
}
