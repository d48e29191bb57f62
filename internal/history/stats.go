package history

import "sort"

// FuncCounts tallies outcomes for one operation type.
type FuncCounts struct {
	Invoked int
	Ok      int
	Fail    int
	Info    int
}

// Stats summarizes a history for reporting: per-type outcome counts and
// the spread of operation counts across keys.
type Stats struct {
	Total  int
	Reads  FuncCounts
	Writes FuncCounts
	CAS    FuncCounts

	KeyOps map[int]int
	KeyMin int
	KeyMed int
	KeyAvg int
	KeyMax int
}

func (h History) Stats() Stats {
	s := Stats{KeyOps: make(map[int]int)}
	for _, op := range h {
		if !op.Client() {
			continue
		}
		var fc *FuncCounts
		switch op.Func {
		case FuncRead:
			fc = &s.Reads
		case FuncWrite:
			fc = &s.Writes
		case FuncCAS:
			fc = &s.CAS
		default:
			continue
		}
		s.Total++
		fc.Invoked++
		switch op.Outcome {
		case OutcomeOk:
			fc.Ok++
		case OutcomeFail:
			fc.Fail++
		case OutcomeInfo:
			fc.Info++
		}
		s.KeyOps[op.Key]++
	}

	if len(s.KeyOps) > 0 {
		counts := make([]int, 0, len(s.KeyOps))
		sum := 0
		for _, c := range s.KeyOps {
			counts = append(counts, c)
			sum += c
		}
		sort.Ints(counts)
		s.KeyMin = counts[0]
		s.KeyMax = counts[len(counts)-1]
		s.KeyAvg = sum / len(counts)
		mid := len(counts) / 2
		if len(counts)%2 == 0 {
			s.KeyMed = (counts[mid-1] + counts[mid]) / 2
		} else {
			s.KeyMed = counts[mid]
		}
	}
	return s
}
