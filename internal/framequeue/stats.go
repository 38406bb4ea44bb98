package framequeue

// Stats is a snapshot of queue counters.
type Stats struct {
	// Pushed counts frames accepted by Push.
	Pushed uint64

	// Dropped counts frames rejected because the queue stayed full (or closed).
	// Non-zero is expected after a processing stall.
	Dropped uint64

	// Popped counts frames handed to the consumer.
	Popped uint64

	// Len is the number of frames buffered at snapshot time.
	Len int

	// Cap is the queue capacity.
	Cap int
}

// DropRate returns the percentage of offered frames that were dropped (0-100).
func (s Stats) DropRate() float64 {
	total := s.Pushed + s.Dropped
	if total == 0 {
		return 0
	}
	return float64(s.Dropped) / float64(total) * 100.0
}

// Stats returns the current counters. Values may be slightly stale.
func (q *Queue) Stats() Stats {
	return Stats{
		Pushed:  q.pushed.Load(),
		Dropped: q.dropped.Load(),
		Popped:  q.popped.Load(),
		Len:     q.Len(),
		Cap:     q.Cap(),
	}
}
