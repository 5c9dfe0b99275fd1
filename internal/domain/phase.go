package domain

import (
	"fmt"
	"strings"
)

// Phase is the lifecycle state of a product.
type Phase uint8

const (
	PhaseCreated Phase = iota
	PhaseFundAccept
	PhaseFundLocked
	PhaseIssuance
	PhaseMature
)

var phaseNames = [...]string{"Created", "FundAccept", "FundLocked", "Issuance", "Mature"}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", uint8(p))
}

// Valid reports whether p is one of the five defined phases.
func (p Phase) Valid() bool {
	return p <= PhaseMature
}

// ParsePhase accepts a phase name (case-insensitive) or its numeric code.
func ParsePhase(s string) (Phase, error) {
	s = strings.TrimSpace(s)
	for i, name := range phaseNames {
		if strings.EqualFold(name, s) || s == fmt.Sprint(i) {
			return Phase(i), nil
		}
	}
	return 0, fmt.Errorf("domain: unknown phase %q", s)
}

// PhaseSet is a small bitset of phases used by operation guards.
type PhaseSet uint8

// Phases builds a PhaseSet.
func Phases(ps ...Phase) PhaseSet {
	var s PhaseSet
	for _, p := range ps {
		s |= 1 << p
	}
	return s
}

// Has reports whether p is in the set.
func (s PhaseSet) Has(p Phase) bool {
	return p.Valid() && s&(1<<p) != 0
}

// MarshalText renders the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("domain: invalid phase %d", uint8(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText accepts anything ParsePhase accepts.
func (p *Phase) UnmarshalText(b []byte) error {
	v, err := ParsePhase(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
