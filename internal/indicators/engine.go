package indicators

import "sync"

// Engine keeps the computed indicator set per instrument for the session.
type Engine struct {
	mu     sync.RWMutex
	sets   map[string]*Set
	minLen int
	spans  Spans
}

// NewEngine builds an indicator engine. minLen <= 0 uses DefaultMinHistory.
func NewEngine(minLen int, spans Spans) *Engine {
	if minLen <= 0 {
		minLen = DefaultMinHistory
	}
	return &Engine{
		sets:   make(map[string]*Set),
		minLen: minLen,
		spans:  spans,
	}
}

// Load computes and stores the set for instrument from a newest-first feed.
// On error any previous set for the instrument is dropped.
func (e *Engine) Load(instrument string, newestFirst []int64) (*Set, error) {
	set, err := Compute(OldestFirst(newestFirst), e.minLen, e.spans)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		delete(e.sets, instrument)
		return nil, err
	}
	e.sets[instrument] = set
	return set, nil
}

// Get returns the stored set, or nil when the instrument has no usable history.
func (e *Engine) Get(instrument string) *Set {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sets[instrument]
}

// Instruments returns how many instruments have a usable set.
func (e *Engine) Instruments() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.sets)
}
