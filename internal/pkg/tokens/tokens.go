package tokens

import (
	"github.com/go-ego/gse"
)

// Estimator approximates model token counts for budget enforcement.
// Word segmentation via gse when the dictionary loads; a chars/4 heuristic
// otherwise. Estimates only need to be stable and monotonic, not exact.
type Estimator struct {
	seg    gse.Segmenter
	loaded bool
}

// NewEstimator creates a token estimator
func NewEstimator() *Estimator {
	e := &Estimator{}
	seg, err := gse.New()
	if err == nil {
		e.seg = seg
		e.loaded = true
	}
	return e
}

// Count estimates the token count of text
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	if e.loaded {
		if words := e.seg.Cut(text, true); len(words) > 0 {
			return len(words)
		}
	}
	return len(text)/4 + 1
}

// CountAll estimates the total token count of several strings
func (e *Estimator) CountAll(texts ...string) int {
	total := 0
	for _, t := range texts {
		total += e.Count(t)
	}
	return total
}
