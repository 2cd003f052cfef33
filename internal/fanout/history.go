package fanout

import "time"

const (
	// Keep report history memory bounded. Broadcasts can be frequent and
	// keeping all reports forever would steadily retain memory.
	defaultHistoryMax = 100
	defaultHistoryTTL = 24 * time.Hour
)

func (e *Engine) remember(r Report) {
	e.histMu.Lock()
	defer e.histMu.Unlock()
	e.history = append(e.history, r)
	e.pruneLocked(time.Now())
}

func (e *Engine) pruneLocked(now time.Time) {
	max := e.cfg.HistoryMax
	if max <= 0 {
		max = defaultHistoryMax
	}
	ttl := e.cfg.HistoryTTL
	if ttl <= 0 {
		ttl = defaultHistoryTTL
	}

	// Drop reports older than TTL. History is append-ordered, so the
	// survivors are a suffix.
	keepFrom := 0
	for i, r := range e.history {
		if now.Sub(r.StartedAt) <= ttl {
			keepFrom = i
			break
		}
		keepFrom = i + 1
	}
	if keepFrom > 0 {
		e.history = append([]Report(nil), e.history[keepFrom:]...)
	}

	// Still too big: drop the oldest.
	if over := len(e.history) - max; over > 0 {
		e.history = append([]Report(nil), e.history[over:]...)
	}
}

// History returns recent reports, oldest first.
func (e *Engine) History() []Report {
	e.histMu.Lock()
	defer e.histMu.Unlock()
	e.pruneLocked(time.Now())
	return append([]Report(nil), e.history...)
}
