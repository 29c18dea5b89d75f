// Package rank orders detections for rendering and caps how many are kept.
package rank

import (
	"sort"

	"skysweep/internal/detection"
)

// Select sorts the full set by confidence-weighted area, descending, and
// truncates to max entries. Sorting happens before the cut so the cap never
// discards a stronger detection in favor of a weaker one. max <= 0 means
// unlimited. The sort is stable so equal scores keep detector emission order.
func Select(s detection.Set, max int) detection.Set {
	out := s
	out.Detections = make([]detection.Detection, len(s.Detections))
	copy(out.Detections, s.Detections)
	sort.SliceStable(out.Detections, func(i, j int) bool {
		return out.Detections[i].Score() > out.Detections[j].Score()
	})
	if max > 0 && len(out.Detections) > max {
		out.Detections = out.Detections[:max]
	}
	return out
}
