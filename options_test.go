package meshbvh

import "testing"

func TestDefaultOptions(t *testing.T) {
	o := defaultOptions()
	if err := o.validate(); err != nil {
		t.Fatal(err)
	}
	if o.strategy != StrategyFastTrace || o.maxTrisPerLeaf != DefaultMaxTrisPerLeaf ||
		o.splitCandidates != DefaultSplitCandidates || o.maxLevels != DefaultMaxLevels {
		t.Errorf("defaults = %+v", o)
	}
}

func TestOptionsApply(t *testing.T) {
	o := defaultOptions()
	for _, opt := range []Option{
		WithStrategy(StrategyFastBuild),
		WithMaxTrisPerLeaf(2),
		WithSplitCandidates(16),
		WithMaxLevels(12),
	} {
		opt(&o)
	}
	want := options{strategy: StrategyFastBuild, maxTrisPerLeaf: 2, splitCandidates: 16, maxLevels: 12}
	if o != want {
		t.Errorf("options = %+v, want %+v", o, want)
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in   string
		want Strategy
		ok   bool
	}{
		{"fast-trace", StrategyFastTrace, true},
		{" SAH ", StrategyFastTrace, true},
		{"fast-build", StrategyFastBuild, true},
		{"morton", StrategyFastBuild, true},
		{"octree", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseStrategy(tt.in)
		if (err == nil) != tt.ok || (tt.ok && got != tt.want) {
			t.Errorf("ParseStrategy(%q) = %v, %v", tt.in, got, err)
		}
	}
	for _, s := range strategies {
		if got, err := ParseStrategy(s.String()); err != nil || got != s {
			t.Errorf("ParseStrategy(%q) = %v, %v", s.String(), got, err)
		}
	}
	if got := Strategy(9).String(); got != "strategy(9)" {
		t.Errorf("Strategy(9).String() = %q", got)
	}
}
