package watch

import (
	"strings"
	"time"
)

const meterWidth = 5

// Pulse alternates between two frames on every clock tick. A frozen pulse
// means the UI loop has stalled.
type Pulse struct {
	frame int
}

func (p *Pulse) Tick() { p.frame ^= 1 }

func (p Pulse) Current() string {
	if p.frame == 0 {
		return "◐"
	}
	return "◑"
}

// Meter lights up when an event arrives and fades one dot every two seconds.
type Meter struct {
	level     int
	lastEvent time.Time
}

func (m *Meter) OnEvent(now time.Time) {
	m.level = meterWidth
	m.lastEvent = now
}

// Decay recomputes the level from the time since the last event.
func (m *Meter) Decay(now time.Time) {
	if m.lastEvent.IsZero() {
		return
	}
	faded := int(now.Sub(m.lastEvent) / (2 * time.Second))
	m.level = max(0, meterWidth-faded)
}

func (m Meter) Level() int { return m.level }

func (m Meter) LastEvent() time.Time { return m.lastEvent }

func (m Meter) Render(theme Theme) string {
	var b strings.Builder
	for i := range meterWidth {
		if i < m.level {
			b.WriteString(theme.MeterOn.Render("●"))
		} else {
			b.WriteString(theme.MeterOff.Render("○"))
		}
	}
	return b.String()
}
