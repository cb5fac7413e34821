package session

import "time"

// State represents where the current time falls in the trading day
type State string

const (
	// StateFuturesSession - overnight futures session, spans midnight
	StateFuturesSession State = "futures_session"
	// StateDomesticOpen - the domestic cash market is trading
	StateDomesticOpen State = "domestic_open"
	// StateClosed - neither session is active
	StateClosed State = "closed"
)

// WindowConfig defines the session boundaries in exchange-local time.
// The futures session starts in the evening and wraps past midnight until
// the morning cutoff; the domestic cash session runs later that morning.
type WindowConfig struct {
	EveningStartHour   int // futures session start (default 17)
	EveningStartMinute int // (default 10)
	MorningCutoffHour  int // futures session end, next day (default 8)
	DomesticOpenHour   int // cash session open (default 10)
	DomesticCloseHour  int // cash session close, exclusive (default 16)
}

func (c WindowConfig) withDefaults() WindowConfig {
	if c.EveningStartHour == 0 && c.EveningStartMinute == 0 {
		c.EveningStartHour = 17
		c.EveningStartMinute = 10
	}
	if c.MorningCutoffHour == 0 {
		c.MorningCutoffHour = 8
	}
	if c.DomesticOpenHour == 0 {
		c.DomesticOpenHour = 10
	}
	if c.DomesticCloseHour == 0 {
		c.DomesticCloseHour = 16
	}
	return c
}

// Window classifies timestamps into named session states with inclusive
// boundary rules. The futures check must handle the midnight wrap: an hour
// comparison alone misclassifies early-morning hours, so the rule is
// (h > start) OR (h == start AND m >= startMinute) OR (h < morningCutoff).
type Window struct {
	cfg WindowConfig
}

// NewWindow creates a session window classifier
func NewWindow(cfg WindowConfig) *Window {
	return &Window{cfg: cfg.withDefaults()}
}

// Classify returns the session state for the given timestamp
func (w *Window) Classify(t time.Time) State {
	if w.InFuturesSession(t) {
		return StateFuturesSession
	}

	h := t.Hour()
	if h >= w.cfg.DomesticOpenHour && h < w.cfg.DomesticCloseHour {
		return StateDomesticOpen
	}

	return StateClosed
}

// InFuturesSession reports whether the timestamp falls inside the overnight
// futures session, including the post-midnight stretch before the morning
// cutoff
func (w *Window) InFuturesSession(t time.Time) bool {
	h, m := t.Hour(), t.Minute()

	if h > w.cfg.EveningStartHour {
		return true
	}
	if h == w.cfg.EveningStartHour && m >= w.cfg.EveningStartMinute {
		return true
	}
	return h < w.cfg.MorningCutoffHour
}
