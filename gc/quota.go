package gc

import "time"

// quotaWindow is the 10-sample moving window behind the adaptive pause
// quota controller (spec.md §4.9). A small fixed-size ring rather than
// an imported container: the natural grounding source, catrate's
// generic ringBuffer[E] (catrate/limiter.go), is unexported and so isn't
// importable outside its own package — its sliding-window technique
// (overwrite the oldest slot) is what's adapted here,
// not its code. See DESIGN.md.
const quotaWindowSize = 10

type quotaWindow struct {
	samples [quotaWindowSize]time.Duration
	len     int
	next    int
}

func (w *quotaWindow) add(d time.Duration) {
	w.samples[w.next] = d
	w.next = (w.next + 1) % quotaWindowSize
	if w.len < quotaWindowSize {
		w.len++
	}
}

func (w *quotaWindow) mean() time.Duration {
	if w.len == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < w.len; i++ {
		sum += w.samples[i]
	}
	return sum / time.Duration(w.len)
}

// QuotaController is the adaptive pause-quota controller from spec.md
// §4.9: it tracks observed collection pause durations over a moving
// window and multiplicatively adjusts a target quota toward the
// configured target pause time, shrinking the quota 10% whenever the
// observed mean exceeds target and growing it 5% whenever it doesn't,
// clamped to [Min, Max].
type QuotaController struct {
	Target time.Duration
	Min    time.Duration
	Max    time.Duration

	window quotaWindow
	quota  time.Duration
}

// NewQuotaController constructs a controller whose quota starts at
// target, clamped to [min,max].
func NewQuotaController(target, min, max time.Duration) *QuotaController {
	start := target
	if start < min {
		start = min
	}
	if start > max {
		start = max
	}
	return &QuotaController{Target: target, Min: min, Max: max, quota: start}
}

// Quota returns the current pause-time budget for the next collection.
func (q *QuotaController) Quota() time.Duration {
	return q.quota
}

// Observe records one collection's actual pause duration and adjusts the
// quota: shrink (x0.9) if the window's mean has drifted past Target,
// grow (x1.05) otherwise, clamped to [Min, Max].
func (q *QuotaController) Observe(observed time.Duration) {
	q.window.add(observed)
	mean := q.window.mean()

	var next time.Duration
	if mean > q.Target {
		next = time.Duration(float64(q.quota) * 0.9)
	} else {
		next = time.Duration(float64(q.quota) * 1.05)
	}
	if next < q.Min {
		next = q.Min
	}
	if next > q.Max {
		next = q.Max
	}
	q.quota = next
}
