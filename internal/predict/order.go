package predict

// canonical is the label order clients receive probabilities in.
var canonical = []string{"low", "medium", "high"}

// CanonicalClasses returns a copy of the canonical label order.
func CanonicalClasses() []string {
	out := make([]string, len(canonical))
	copy(out, canonical)
	return out
}

// NormalizeOrder permutes proba into canonical label order when every
// canonical label is among classes. Otherwise both inputs are returned
// unchanged. Labels and probabilities stay index-aligned either way.
func NormalizeOrder(classes []string, proba []float64) ([]string, []float64) {
	if classes == nil || proba == nil || len(classes) != len(proba) {
		return classes, proba
	}
	idx := classIndex(classes)
	if !coversCanonical(idx) {
		return classes, proba
	}
	out := make([]float64, len(canonical))
	for i, c := range canonical {
		out[i] = proba[idx[c]]
	}
	return CanonicalClasses(), out
}

func coversCanonical(idx map[string]int) bool {
	for _, c := range canonical {
		if _, ok := idx[c]; !ok {
			return false
		}
	}
	return true
}

func classIndex(classes []string) map[string]int {
	idx := make(map[string]int, len(classes))
	for i, c := range classes {
		idx[c] = i
	}
	return idx
}
