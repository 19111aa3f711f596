package meshbvh

import (
	"fmt"
	"strings"

	"github.com/gogpu/meshbvh/compute"
)

// Default build parameters.
const (
	DefaultMaxTrisPerLeaf  = 4
	DefaultSplitCandidates = 8
	DefaultMaxLevels       = 100
)

// Strategy selects how nodes are split.
type Strategy int

const (
	// StrategyFastTrace splits every node at the best of several candidate
	// planes scored by the surface area heuristic. Slower to build, faster
	// to traverse.
	StrategyFastTrace Strategy = iota

	// StrategyFastBuild sorts triangles by Morton code once and splits
	// every node at the middle of its range.
	StrategyFastBuild
)

// String returns the strategy name used in configuration files.
func (s Strategy) String() string {
	switch s {
	case StrategyFastTrace:
		return "fast-trace"
	case StrategyFastBuild:
		return "fast-build"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy parses the output of Strategy.String.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fast-trace", "trace", "sah":
		return StrategyFastTrace, nil
	case "fast-build", "build", "morton":
		return StrategyFastBuild, nil
	default:
		return 0, fmt.Errorf("meshbvh: unknown strategy %q", s)
	}
}

// iotaResolution is the padding granularity of the fast-trace index buffer.
const iotaResolution = 16

// Option configures a Generator.
type Option func(*options)

type options struct {
	strategy        Strategy
	maxTrisPerLeaf  uint32
	splitCandidates uint32
	maxLevels       int
}

func defaultOptions() options {
	return options{
		strategy:        StrategyFastTrace,
		maxTrisPerLeaf:  DefaultMaxTrisPerLeaf,
		splitCandidates: DefaultSplitCandidates,
		maxLevels:       DefaultMaxLevels,
	}
}

func (o options) validate() error {
	if o.strategy != StrategyFastTrace && o.strategy != StrategyFastBuild {
		return fmt.Errorf("meshbvh: unknown strategy %d", int(o.strategy))
	}
	if o.maxTrisPerLeaf == 0 {
		return fmt.Errorf("meshbvh: leaf threshold must be at least 1")
	}
	if o.splitCandidates == 0 {
		return fmt.Errorf("meshbvh: at least one split candidate is required")
	}
	if o.splitCandidates > compute.MaxWorkgroupsPerDimension {
		return fmt.Errorf("meshbvh: %d split candidates exceed the limit of %d",
			o.splitCandidates, compute.MaxWorkgroupsPerDimension)
	}
	if o.maxLevels <= 0 {
		return fmt.Errorf("meshbvh: level cap must be positive, got %d", o.maxLevels)
	}
	return nil
}

// WithStrategy selects the split strategy. The default is StrategyFastTrace.
func WithStrategy(s Strategy) Option {
	return func(o *options) { o.strategy = s }
}

// WithMaxTrisPerLeaf sets the leaf threshold: nodes holding at most n
// triangles are leaves.
func WithMaxTrisPerLeaf(n uint32) Option {
	return func(o *options) { o.maxTrisPerLeaf = n }
}

// WithSplitCandidates sets how many planes the fast-trace strategy scores
// per node. More candidates give better trees for more GPU work.
func WithSplitCandidates(n uint32) Option {
	return func(o *options) { o.splitCandidates = n }
}

// WithMaxLevels caps the number of tree levels. A build that reaches the
// cap stops early and reports Truncated.
func WithMaxLevels(n int) Option {
	return func(o *options) { o.maxLevels = n }
}
