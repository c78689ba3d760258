package framebus

// BusStats is a snapshot of bus counters.
type BusStats struct {
	TotalPublished uint64
	TotalSent      uint64
	TotalDropped   uint64
	Subscribers    map[string]SubscriberStats
}

// SubscriberStats tracks deliveries for one subscriber.
type SubscriberStats struct {
	Policy  DropPolicy
	Sent    uint64
	Dropped uint64
}

// DropRate returns the fraction of deliveries dropped across all
// subscribers, 0 when nothing was delivered.
func (s BusStats) DropRate() float64 {
	total := s.TotalSent + s.TotalDropped
	if total == 0 {
		return 0
	}
	return float64(s.TotalDropped) / float64(total)
}

// DropRate returns the subscriber's drop fraction.
func (s SubscriberStats) DropRate() float64 {
	total := s.Sent + s.Dropped
	if total == 0 {
		return 0
	}
	return float64(s.Dropped) / float64(total)
}
