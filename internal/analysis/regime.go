package analysis

import "fmt"

// Regime is the qualitative classification of a correlation value.
type Regime int

const (
	// RegimeUndefined means there was not enough history to classify.
	RegimeUndefined Regime = iota
	// RegimeDecoupled is a correlation strictly below the lower threshold.
	RegimeDecoupled
	// RegimeLinked is a correlation between the thresholds, inclusive.
	RegimeLinked
	// RegimeLockstep is a correlation strictly above the upper threshold.
	RegimeLockstep
)

var regimeNames = map[Regime]string{
	RegimeUndefined: "undefined",
	RegimeDecoupled: "decoupled",
	RegimeLinked:    "linked",
	RegimeLockstep:  "lockstep",
}

func (r Regime) String() string {
	if name, ok := regimeNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Regime(%d)", int(r))
}

// IsDefined reports whether r carries a classification.
func (r Regime) IsDefined() bool {
	return r != RegimeUndefined
}

// MarshalText implements encoding.TextMarshaler.
func (r Regime) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Regime) UnmarshalText(text []byte) error {
	for regime, name := range regimeNames {
		if name == string(text) {
			*r = regime
			return nil
		}
	}
	return fmt.Errorf("unknown regime %q", text)
}

// Default regime thresholds.
const (
	DefaultUpperThreshold = 0.8
	DefaultLowerThreshold = 0.5
)

// Thresholds separates the regimes. Upper is the boundary between Linked and
// Lockstep, Lower the boundary between Decoupled and Linked.
type Thresholds struct {
	Upper float64 `json:"upper"`
	Lower float64 `json:"lower"`
}

// DefaultThresholds returns {Upper: 0.8, Lower: 0.5}.
func DefaultThresholds() Thresholds {
	return Thresholds{Upper: DefaultUpperThreshold, Lower: DefaultLowerThreshold}
}

// NewThresholds validates and returns a threshold pair.
func NewThresholds(upper, lower float64) (Thresholds, error) {
	t := Thresholds{Upper: upper, Lower: lower}
	if err := t.Validate(); err != nil {
		return Thresholds{}, err
	}
	return t, nil
}

// Validate enforces 0 <= Lower < Upper <= 1.
func (t Thresholds) Validate() error {
	if !(t.Lower >= 0 && t.Lower < t.Upper && t.Upper <= 1) {
		return &Error{
			Kind:    ErrInvalidConfiguration,
			Message: fmt.Sprintf("thresholds must satisfy 0 <= lower < upper <= 1, got lower=%g upper=%g", t.Lower, t.Upper),
		}
	}
	return nil
}

// Classify maps a correlation to its regime. Both comparisons are strict, so
// a value equal to either threshold is Linked.
func (t Thresholds) Classify(correlation Value) Regime {
	if !correlation.Defined {
		return RegimeUndefined
	}
	switch {
	case correlation.Float > t.Upper:
		return RegimeLockstep
	case correlation.Float < t.Lower:
		return RegimeDecoupled
	default:
		return RegimeLinked
	}
}
