package powerpool

// spinTuner adapts how long a worker spins for new local work before it
// tries to steal. It keeps the outcome of the last spinWindow spins: when
// most of them found work the budget doubles, when none did it halves.
// Only the owning worker goroutine touches it.
type spinTuner struct {
	history uint16
	samples int
	budget  int
}

const (
	spinWindow  = 10
	spinInitial = 16
	spinMin     = 1
	spinMax     = 256
)

func newSpinTuner() spinTuner {
	return spinTuner{budget: spinInitial}
}

func (t *spinTuner) iterations() int {
	return t.budget
}

func (t *spinTuner) record(hit bool) {
	t.history <<= 1
	if hit {
		t.history |= 1
	}
	t.history &= 1<<spinWindow - 1
	if t.samples < spinWindow {
		t.samples++
	}
	if t.samples < spinWindow {
		return
	}

	hits := 0
	for h := t.history; h != 0; h &= h - 1 {
		hits++
	}
	switch {
	case hits*2 > spinWindow && t.budget < spinMax:
		t.budget *= 2
	case hits == 0 && t.budget > spinMin:
		t.budget /= 2
	default:
		return
	}
	// Start a new window so that one change is judged on fresh samples.
	t.history = 0
	t.samples = 0
}
