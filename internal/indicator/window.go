package indicator

import "fusion-trading-bot/internal/exchange"

// Window is a bounded bar history. Pushing beyond capacity evicts the
// oldest bar; a push with the open time of the newest bar replaces it so
// stream updates for the same candle never duplicate.
type Window struct {
	bars     []exchange.PriceBar
	capacity int
}

// NewWindow allocates a window holding at most capacity bars.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{
		bars:     make([]exchange.PriceBar, 0, capacity),
		capacity: capacity,
	}
}

// Push appends a bar, replacing the newest one on matching open time.
func (w *Window) Push(bar exchange.PriceBar) {
	n := len(w.bars)
	if n > 0 && w.bars[n-1].OpenTime == bar.OpenTime {
		w.bars[n-1] = bar
		return
	}
	// Out-of-order bars are dropped, the feed replays history on reconnect.
	if n > 0 && w.bars[n-1].OpenTime > bar.OpenTime {
		return
	}
	if n == w.capacity {
		copy(w.bars, w.bars[1:])
		w.bars[n-1] = bar
		return
	}
	w.bars = append(w.bars, bar)
}

// Fill replaces the window's contents with the newest bars of history,
// oldest first.
func (w *Window) Fill(history []exchange.PriceBar) {
	start := 0
	if len(history) > w.capacity {
		start = len(history) - w.capacity
	}
	w.bars = w.bars[:0]
	w.bars = append(w.bars, history[start:]...)
}

// Bars returns a copy of the current contents, oldest first.
func (w *Window) Bars() []exchange.PriceBar {
	out := make([]exchange.PriceBar, len(w.bars))
	copy(out, w.bars)
	return out
}

// Len returns the number of bars held.
func (w *Window) Len() int {
	return len(w.bars)
}

// Last returns the newest bar and whether one exists.
func (w *Window) Last() (exchange.PriceBar, bool) {
	if len(w.bars) == 0 {
		return exchange.PriceBar{}, false
	}
	return w.bars[len(w.bars)-1], true
}
