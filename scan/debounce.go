package scan

import (
	"time"

	"github.com/hazyhaar/adscan/dom"
)

// debounceConfig controls change batching.
type debounceConfig struct {
	// Window is the debounce time. Default: 100ms.
	Window time.Duration
	// MaxBuffer flushes immediately when this many nodes accumulate.
	// Default: 256.
	MaxBuffer int
}

func (dc *debounceConfig) defaults() {
	if dc.Window <= 0 {
		dc.Window = 100 * time.Millisecond
	}
	if dc.MaxBuffer <= 0 {
		dc.MaxBuffer = 256
	}
}

// debouncer collects changed nodes and emits one batch when the window
// expires or the buffer fills. Delivery order is preserved.
type debouncer struct {
	cfg     debounceConfig
	nodes   []dom.Node
	timer   *time.Timer
	timerCh <-chan time.Time
	flushFn func([]dom.Node)
}

func newDebouncer(cfg debounceConfig, flushFn func([]dom.Node)) *debouncer {
	cfg.defaults()
	return &debouncer{
		cfg:     cfg,
		nodes:   make([]dom.Node, 0, cfg.MaxBuffer),
		flushFn: flushFn,
	}
}

// add pushes nodes into the buffer. Returns true if an immediate flush was
// triggered (buffer full).
func (d *debouncer) add(nodes ...dom.Node) bool {
	d.nodes = append(d.nodes, nodes...)

	if len(d.nodes) >= d.cfg.MaxBuffer {
		d.flush()
		return true
	}

	// (Re)start the window timer.
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.NewTimer(d.cfg.Window)
	d.timerCh = d.timer.C
	return false
}

// timerC returns the channel that fires when the debounce window expires.
func (d *debouncer) timerC() <-chan time.Time {
	return d.timerCh
}

// flush emits the buffered nodes, then resets.
func (d *debouncer) flush() {
	if len(d.nodes) == 0 {
		return
	}

	batch := make([]dom.Node, len(d.nodes))
	copy(batch, d.nodes)
	d.flushFn(batch)

	d.nodes = d.nodes[:0]
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
		d.timerCh = nil
	}
}
