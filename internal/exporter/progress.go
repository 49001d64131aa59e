package exporter

import "sync"

// Export phases.
const (
	PhaseDownload = "download"
	PhaseCompress = "compress"
)

// Progress is the aggregate progress of one phase.
type Progress struct {
	Phase       string `json:"phase"`
	Transferred int64  `json:"transferred"`
	Total       int64  `json:"total"`
	// Pending is set while the size of some transfer is still unknown.
	Pending bool `json:"pending"`
}

// Fraction returns Transferred/Total, or 0 while pending.
func (p Progress) Fraction() float64 {
	if p.Pending || p.Total <= 0 {
		return 0
	}
	return float64(p.Transferred) / float64(p.Total)
}

type transfer struct {
	done, total int64 // total < 0 while unknown
}

// tracker aggregates concurrent transfers of one phase and reports the sum
// after every change.
type tracker struct {
	mu        sync.Mutex
	phase     string
	transfers map[string]*transfer
	emit      func(Progress)
}

func newTracker(phase string, emit func(Progress)) *tracker {
	return &tracker{phase: phase, transfers: make(map[string]*transfer), emit: emit}
}

// add registers a transfer; total may be negative when unknown.
func (t *tracker) add(name string, total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transfers[name] = &transfer{total: total}
}

// set records the absolute state of a transfer.
func (t *tracker) set(name string, done, total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.transfers[name]
	if !ok {
		tr = &transfer{}
		t.transfers[name] = tr
	}
	tr.done, tr.total = done, total
	t.report()
}

// advance adds delta to a transfer.
func (t *tracker) advance(name string, delta int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tr, ok := t.transfers[name]; ok {
		tr.done += delta
		t.report()
	}
}

// finish marks a transfer complete at whatever it reached, so that a failed
// transfer neither blocks the total nor keeps the phase pending.
func (t *tracker) finish(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tr, ok := t.transfers[name]; ok {
		tr.total = tr.done
		t.report()
	}
}

func (t *tracker) snapshot() Progress {
	p := Progress{Phase: t.phase}
	for _, tr := range t.transfers {
		p.Transferred += tr.done
		if tr.total < 0 {
			p.Pending = true
			continue
		}
		p.Total += tr.total
	}
	return p
}

// report must be called with mu held.
func (t *tracker) report() {
	if t.emit != nil {
		t.emit(t.snapshot())
	}
}
