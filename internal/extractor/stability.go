package extractor

// Tracker counts instances attempted and skipped across one run. Its skip
// ratio decides whether a finished run may be remembered as current.
type Tracker struct {
	attempted int
	skipped   int
}

// Attempt records one candidate instance being examined.
func (t *Tracker) Attempt() {
	t.attempted++
}

// Skip records one attempted instance lost to collection.
func (t *Tracker) Skip() {
	t.skipped++
}

// Attempted returns the number of instances examined.
func (t *Tracker) Attempted() int {
	return t.attempted
}

// Skipped returns the number of instances lost to collection.
func (t *Tracker) Skipped() int {
	return t.skipped
}

// Ratio is skipped/attempted, zero when nothing was attempted.
func (t *Tracker) Ratio() float64 {
	if t.attempted == 0 {
		return 0
	}
	return float64(t.skipped) / float64(t.attempted)
}

// Stable reports whether the skip ratio stayed at or below threshold.
func (t *Tracker) Stable(threshold float64) bool {
	return t.Ratio() <= threshold
}
