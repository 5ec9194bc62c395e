package appointment

import "time"

// Position is one bookable sub-slot of a block. Positions are not stored;
// they are addressed by their computed start time.
type Position struct {
	Index     int
	StartTime time.Time
	Taken     bool
}

// PositionStart returns the start time of position index within the block.
// The offset is floor(index*duration/capacity) computed in whole nanoseconds,
// then truncated to the minute, so repeated calls always agree exactly.
// Callers guarantee 0 <= index < Capacity and EndTime after StartTime.
func PositionStart(b *Block, index int) time.Time {
	if b.Capacity <= 1 || index <= 0 {
		return b.StartTime.Truncate(time.Minute)
	}
	total := int64(b.EndTime.Sub(b.StartTime))
	offset := time.Duration(total / int64(b.Capacity) * int64(index))
	if rem := total % int64(b.Capacity); rem != 0 {
		offset += time.Duration(rem * int64(index) / int64(b.Capacity))
	}
	return b.StartTime.Add(offset).Truncate(time.Minute)
}

// Positions lists every position of the block in index order.
func Positions(b *Block) []Position {
	out := make([]Position, 0, b.Capacity)
	for i := 0; i < b.Capacity; i++ {
		out = append(out, Position{Index: i, StartTime: PositionStart(b, i)})
	}
	return out
}

// IndexOf maps a clock time back to the position it starts. ok is false when
// t is not the start of any position.
func IndexOf(b *Block, t time.Time) (int, bool) {
	want := t.Truncate(time.Minute)
	for i := 0; i < b.Capacity; i++ {
		if PositionStart(b, i).Equal(want) {
			return i, true
		}
	}
	return 0, false
}

// validateGeometry rejects windows that cannot be split into distinct
// minute-addressable positions.
func validateGeometry(start, end time.Time, capacity int) error {
	if capacity <= 0 {
		return &ValidationError{Field: "capacity", Message: "must be positive"}
	}
	if !end.After(start) {
		return &ValidationError{Field: "end_time", Message: "must be after start_time"}
	}
	if end.Sub(start)/time.Duration(capacity) < time.Minute {
		return &ValidationError{Field: "capacity", Message: "positions must be at least one minute apart"}
	}
	if start.Truncate(time.Minute) != start {
		return &ValidationError{Field: "start_time", Message: "must fall on a whole minute"}
	}
	return nil
}
