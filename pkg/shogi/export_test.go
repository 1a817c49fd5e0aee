package shogi

import "time"

// SetSchedule replaces the timer used for deferred replies.
func SetSchedule(g *Game, f func(time.Duration, func()) func() bool) {
	g.schedule = f
}
