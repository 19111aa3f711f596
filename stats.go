package meshbvh

import (
	"log/slog"
	"time"
)

// StageStats is the accumulated time of one build stage.
type StageStats struct {
	Name     string
	Calls    int
	Duration time.Duration
}

// Stats collects wall-clock timings of builds. Stage durations include the
// wait for the submission fence, so they approximate device time.
type Stats struct {
	Builds    int
	Triangles int64
	Levels    int
	Total     time.Duration
	// Stages is in first-use order.
	Stages []StageStats
}

// Stage returns the entry for name, or a zero StageStats.
func (s *Stats) Stage(name string) StageStats {
	for _, st := range s.Stages {
		if st.Name == name {
			return st
		}
	}
	return StageStats{Name: name}
}

func (s *Stats) record(name string, d time.Duration) {
	for i := range s.Stages {
		if s.Stages[i].Name == name {
			s.Stages[i].Calls++
			s.Stages[i].Duration += d
			return
		}
	}
	s.Stages = append(s.Stages, StageStats{Name: name, Calls: 1, Duration: d})
}

func (s *Stats) merge(o *Stats) {
	s.Builds += o.Builds
	s.Triangles += o.Triangles
	s.Levels += o.Levels
	s.Total += o.Total
	for _, st := range o.Stages {
		found := false
		for i := range s.Stages {
			if s.Stages[i].Name == st.Name {
				s.Stages[i].Calls += st.Calls
				s.Stages[i].Duration += st.Duration
				found = true
				break
			}
		}
		if !found {
			s.Stages = append(s.Stages, st)
		}
	}
}

func (s *Stats) clone() Stats {
	c := *s
	c.Stages = append([]StageStats(nil), s.Stages...)
	return c
}

// LogValue implements slog.LogValuer.
func (s Stats) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, len(s.Stages)+2)
	attrs = append(attrs, slog.Int("builds", s.Builds), slog.Duration("total", s.Total))
	for _, st := range s.Stages {
		attrs = append(attrs, slog.Duration(st.Name, st.Duration))
	}
	return slog.GroupValue(attrs...)
}
