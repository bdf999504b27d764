package levels

import "fmt"

// ScaleMode is the closed set of gap-scaling policies for the outer
// band. Every switch over it handles all three variants.
type ScaleMode int

const (
	// ScaleUpOnly widens the gap on high volatility but never shrinks
	// it: the multiplier is floored at 1.
	ScaleUpOnly ScaleMode = iota
	// ScaleBoth applies the volatility score directly, widening or
	// shrinking the gap.
	ScaleBoth
	// ScaleNone leaves the gap untouched by volatility.
	ScaleNone
)

// ParseScaleMode parses a scale mode name. Unknown names fail at
// configuration time rather than being compared lazily at use sites.
func ParseScaleMode(s string) (ScaleMode, error) {
	switch s {
	case "up_only":
		return ScaleUpOnly, nil
	case "both":
		return ScaleBoth, nil
	case "none":
		return ScaleNone, nil
	default:
		return 0, fmt.Errorf("unknown scale mode %q", s)
	}
}

func (m ScaleMode) String() string {
	switch m {
	case ScaleUpOnly:
		return "up_only"
	case ScaleBoth:
		return "both"
	case ScaleNone:
		return "none"
	default:
		return fmt.Sprintf("scale_mode(%d)", int(m))
	}
}
