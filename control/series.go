package control

// seriesKind distinguishes how a named series is exported and updated.
type seriesKind int

const (
	kindGauge seriesKind = iota
	kindCounter
)

func (k seriesKind) String() string {
	if k == kindCounter {
		return "counter"
	}
	return "gauge"
}

// point is one timestamped value in a series.
type point struct {
	ts    int64
	value float64
}

// series is a named timeseries with bounded retention. Counters are
// monotonic; an update below the current value is ignored rather than
// letting the counter run backwards.
type series struct {
	name   string
	kind   seriesKind
	labels map[string]string
	points []point
	total  float64 // counters: current monotonic value
}

func (s *series) record(ts int64, v float64) {
	if s.kind == kindCounter {
		if v < s.total {
			return
		}
		s.total = v
	}
	s.points = append(s.points, point{ts: ts, value: v})
}

// add increments a counter by delta and appends the new total.
func (s *series) add(ts int64, delta float64) {
	if delta < 0 {
		return
	}
	s.total += delta
	s.points = append(s.points, point{ts: ts, value: s.total})
}

// latest returns the most recent value, or 0 for an empty series.
func (s *series) latest() float64 {
	if len(s.points) == 0 {
		if s.kind == kindCounter {
			return s.total
		}
		return 0
	}
	return s.points[len(s.points)-1].value
}

// prune drops points older than cutoff and caps the series length.
func (s *series) prune(cutoff int64, maxPoints int) {
	keep := s.points
	for len(keep) > 0 && keep[0].ts < cutoff {
		keep = keep[1:]
	}
	if maxPoints > 0 && len(keep) > maxPoints {
		keep = keep[len(keep)-maxPoints:]
	}
	if len(keep) != len(s.points) {
		s.points = append([]point(nil), keep...)
	}
}

// windowSum sums values of points at or after cutoff.
func (s *series) windowSum(cutoff int64) float64 {
	var sum float64
	for i := len(s.points) - 1; i >= 0; i-- {
		if s.points[i].ts < cutoff {
			break
		}
		sum += s.points[i].value
	}
	return sum
}

// windowCount counts points at or after cutoff.
func (s *series) windowCount(cutoff int64) int {
	n := 0
	for i := len(s.points) - 1; i >= 0; i-- {
		if s.points[i].ts < cutoff {
			break
		}
		n++
	}
	return n
}
