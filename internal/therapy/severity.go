package therapy

import (
	"fmt"
	"strings"
)

// Severity is the assumed degree of hearing loss above 2 kHz.
type Severity int

const (
	Normal Severity = iota
	Mild
	Moderate
	Severe
)

var severityNames = [...]string{"normal", "mild", "moderate", "severe"}

// Severities lists every severity in ascending order.
func Severities() []Severity {
	return []Severity{Normal, Mild, Moderate, Severe}
}

func (s Severity) String() string {
	if !s.Valid() {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// Valid reports whether s is one of the four known severities.
func (s Severity) Valid() bool {
	return s >= Normal && s <= Severe
}

// MaxCorrectionDB is the gain applied at and above 8 kHz.
func (s Severity) MaxCorrectionDB() float64 {
	switch s {
	case Mild:
		return 15
	case Moderate:
		return 30
	case Severe:
		return 45
	default:
		return 0
	}
}

// ParseSeverity accepts the lower-case severity names.
func ParseSeverity(name string) (Severity, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range severityNames {
		if n == name {
			return Severity(i), nil
		}
	}
	return Normal, fmt.Errorf("%w: unknown hearing severity %q", ErrConfiguration, name)
}

func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: invalid hearing severity %d", ErrConfiguration, int(s))
	}
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	v, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
