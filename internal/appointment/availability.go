package appointment

import "time"

// Availability annotates every position of the block with whether one of
// bookedTimes already claims it. Times are compared at minute granularity.
func Availability(b *Block, bookedTimes []time.Time) []Position {
	taken := make(map[int64]struct{}, len(bookedTimes))
	for _, t := range bookedTimes {
		taken[minuteKey(t)] = struct{}{}
	}

	positions := Positions(b)
	for i := range positions {
		if _, ok := taken[minuteKey(positions[i].StartTime)]; ok {
			positions[i].Taken = true
		}
	}
	return positions
}

// OpenPositions returns the free positions of the block in index order.
// An empty result means the block is full.
func OpenPositions(b *Block, bookedTimes []time.Time) []Position {
	all := Availability(b, bookedTimes)
	open := all[:0]
	for _, p := range all {
		if !p.Taken {
			open = append(open, p)
		}
	}
	return open
}

func minuteKey(t time.Time) int64 {
	return t.Truncate(time.Minute).Unix()
}

func occupiedTimes(bookings []Booking) []time.Time {
	out := make([]time.Time, 0, len(bookings))
	for _, bk := range bookings {
		if bk.Status == StatusCancelled {
			continue
		}
		out = append(out, bk.OccupiedTime)
	}
	return out
}
