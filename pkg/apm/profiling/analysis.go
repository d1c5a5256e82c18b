package profiling

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/google/pprof/profile"
)

// summary is what a session keeps from a parsed profile.
type summary struct {
	sampleType string
	unit       string
	total      int64
	top        []FunctionStat
}

// sampleIndex picks the value column to rank by: the named sample type when
// present, otherwise the last column.
func sampleIndex(p *profile.Profile, preferred string) int {
	for i, st := range p.SampleType {
		if st.Type == preferred {
			return i
		}
	}
	return len(p.SampleType) - 1
}

// summarize parses pprof protobuf data and ranks functions by flat value.
func summarize(data []byte, preferred string, n int) (summary, error) {
	p, err := profile.Parse(bytes.NewReader(data))
	if err != nil {
		return summary{}, fmt.Errorf("failed to parse profile: %w", err)
	}
	if len(p.SampleType) == 0 {
		return summary{}, nil
	}
	return topFunctions(p, sampleIndex(p, preferred), n), nil
}

// topFunctions attributes each sample's value flat to its leaf function and
// cumulatively to every distinct function on its stack.
func topFunctions(p *profile.Profile, idx, n int) summary {
	s := summary{
		sampleType: p.SampleType[idx].Type,
		unit:       p.SampleType[idx].Unit,
	}

	flat := make(map[string]int64)
	cum := make(map[string]int64)
	for _, sample := range p.Sample {
		v := sample.Value[idx]
		s.total += v

		seen := make(map[string]bool)
		for i, loc := range sample.Location {
			for j, line := range loc.Line {
				if line.Function == nil {
					continue
				}
				name := line.Function.Name
				// the first line of the first location is the leaf frame
				if i == 0 && j == 0 {
					flat[name] += v
				}
				if !seen[name] {
					seen[name] = true
					cum[name] += v
				}
			}
		}
	}

	stats := make([]FunctionStat, 0, len(cum))
	for name, c := range cum {
		fs := FunctionStat{Function: name, Flat: flat[name], Cum: c}
		if s.total > 0 {
			fs.FlatPercent = float64(fs.Flat) / float64(s.total) * 100
			fs.CumPercent = float64(c) / float64(s.total) * 100
		}
		stats = append(stats, fs)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Flat != stats[j].Flat {
			return stats[i].Flat > stats[j].Flat
		}
		if stats[i].Cum != stats[j].Cum {
			return stats[i].Cum > stats[j].Cum
		}
		return stats[i].Function < stats[j].Function
	})
	if n > 0 && len(stats) > n {
		stats = stats[:n]
	}
	s.top = stats
	return s
}
