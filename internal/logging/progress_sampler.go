package logging

// ProgressSampler decides which steps of a long loop are worth a log line.
// The first and last steps always pass; in between, one step per bucket does.
type ProgressSampler struct {
	total   int
	buckets int
	lastHit int
}

// NewProgressSampler samples roughly `buckets` evenly spaced steps out of
// `total`. A non-positive bucket count falls back to 10.
func NewProgressSampler(total, buckets int) *ProgressSampler {
	if buckets <= 0 {
		buckets = 10
	}
	return &ProgressSampler{total: total, buckets: buckets, lastHit: -1}
}

// ShouldLog reports whether the zero-based step should emit progress.
func (s *ProgressSampler) ShouldLog(step int) bool {
	if s == nil || s.total <= 0 {
		return false
	}
	if step < 0 || step >= s.total {
		return false
	}
	if step == 0 || step == s.total-1 {
		s.lastHit = step
		return true
	}
	if s.total <= s.buckets {
		s.lastHit = step
		return true
	}
	bucket := step * s.buckets / s.total
	if s.lastHit >= 0 && s.lastHit*s.buckets/s.total == bucket {
		return false
	}
	s.lastHit = step
	return true
}

// Percent maps a zero-based step to a 0..100 completion figure.
func (s *ProgressSampler) Percent(step int) float64 {
	if s == nil || s.total <= 0 {
		return 0
	}
	if step >= s.total-1 {
		return 100
	}
	if step < 0 {
		return 0
	}
	return float64(step+1) / float64(s.total) * 100
}
