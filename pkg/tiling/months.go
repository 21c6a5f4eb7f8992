package tiling

import(
	"time"
)

// A DateRange is a half-open [Start, End) acquisition window.
type DateRange struct {
	Start, End time.Time
}

func (dr DateRange)IsZero() bool { return dr.Start.IsZero() && dr.End.IsZero() }

func (dr DateRange)Contains(t time.Time) bool {
	return !t.Before(dr.Start) && t.Before(dr.End)
}

// Overlaps treats a zero End as open-ended (a source still flying).
func (dr DateRange)Overlaps(o DateRange) bool {
	drOpen := dr.End.IsZero()
	oOpen := o.End.IsZero()
	if !drOpen && !dr.Start.Before(dr.End) { return false }
	if (drOpen || o.Start.Before(dr.End)) && (oOpen || dr.Start.Before(o.End)) {
		return true
	}
	return false
}

func (dr DateRange)Days() float64 {
	return dr.End.Sub(dr.Start).Hours() / 24.0
}

// MonthRanges splits a window into calendar-month pieces, for
// per-month composites. First and last pieces clip to the window.
func MonthRanges(dr DateRange) []DateRange {
	out := []DateRange{}
	if !dr.Start.Before(dr.End) {
		return out
	}

	cur := time.Date(dr.Start.Year(), dr.Start.Month(), 1, 0, 0, 0, 0, time.UTC)
	for cur.Before(dr.End) {
		next := cur.AddDate(0, 1, 0)
		piece := DateRange{Start: cur, End: next}
		if piece.Start.Before(dr.Start) { piece.Start = dr.Start }
		if piece.End.After(dr.End)      { piece.End = dr.End }
		out = append(out, piece)
		cur = next
	}
	return out
}
