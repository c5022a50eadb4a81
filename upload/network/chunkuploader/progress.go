package chunkuploader

// Fraction returns completed/total clamped to [0, 1].
// A zero-length transfer is complete from the start, so total == 0 reports 1.
func Fraction(completed, total int64) float64 {
	if total <= 0 {
		return 1
	}
	if completed <= 0 {
		return 0
	}
	if completed >= total {
		return 1
	}
	return float64(completed) / float64(total)
}
