// Package audiofilter composes audio filter toggles into a single node payload.
package audiofilter

import "strings"

// Name identifies an audio filter.
type Name string

const (
	DoubleTime Name = "doubleTime"
	Nightcore  Name = "nightcore"
	Vaporwave  Name = "vaporwave"
	EightD     Name = "8d"
	Bassboost  Name = "bassboost"
)

// Order is the fixed merge order. Later filters overwrite keys set by
// earlier ones.
var Order = []Name{DoubleTime, Nightcore, Vaporwave, EightD, Bassboost}

// exclusive filters all drive the timescale block; at most one may be on.
var exclusive = []Name{DoubleTime, Nightcore, Vaporwave}

// ParseName resolves a user-supplied filter name, case-insensitively.
func ParseName(s string) (Name, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "doubletime", "dt":
		return DoubleTime, true
	case "nightcore", "nc":
		return Nightcore, true
	case "vaporwave", "vw":
		return Vaporwave, true
	case "8d", "eightd":
		return EightD, true
	case "bassboost", "bb":
		return Bassboost, true
	default:
		return "", false
	}
}

// Set holds the filter toggles of one session.
type Set struct {
	DoubleTime bool
	Nightcore  bool
	Vaporwave  bool
	EightD     bool
	Bassboost  bool

	// BassboostGain scales the bassboost equalizer template. It is kept
	// separately from the Bassboost toggle.
	BassboostGain float64
}

// Enabled reports whether the named filter is on.
func (s Set) Enabled(name Name) bool {
	switch name {
	case DoubleTime:
		return s.DoubleTime
	case Nightcore:
		return s.Nightcore
	case Vaporwave:
		return s.Vaporwave
	case EightD:
		return s.EightD
	case Bassboost:
		return s.Bassboost
	default:
		return false
	}
}

// Enable sets the named toggle. Enabling one of doubleTime, nightcore or
// vaporwave turns the other two off.
func (s *Set) Enable(name Name, on bool) {
	s.set(name, on)
	if !on || !isExclusive(name) {
		return
	}
	for _, other := range exclusive {
		if other != name {
			s.set(other, false)
		}
	}
}

// SetBassboost turns bassboost on for any non-zero intensity and always
// stores intensity/100 as the gain.
func (s *Set) SetBassboost(intensity int) {
	s.Bassboost = intensity != 0
	s.BassboostGain = float64(intensity) / 100
}

// Reset turns every filter off and clears the bassboost gain.
func (s *Set) Reset() {
	*s = Set{}
}

// Active returns the enabled filter names in merge order.
func (s Set) Active() []Name {
	var names []Name
	for _, name := range Order {
		if s.Enabled(name) {
			names = append(names, name)
		}
	}
	return names
}

func (s *Set) set(name Name, on bool) {
	switch name {
	case DoubleTime:
		s.DoubleTime = on
	case Nightcore:
		s.Nightcore = on
	case Vaporwave:
		s.Vaporwave = on
	case EightD:
		s.EightD = on
	case Bassboost:
		s.Bassboost = on
	}
}

func isExclusive(name Name) bool {
	for _, n := range exclusive {
		if n == name {
			return true
		}
	}
	return false
}

// entry pairs a filter with its toggle and a supplier for its parameter block.
type entry struct {
	name    Name
	enabled bool
	params  func() (map[string]any, bool)
}

func (s Set) entries(p *Profiles) []entry {
	entries := make([]entry, 0, len(Order))
	for _, name := range Order {
		entries = append(entries, entry{
			name:    name,
			enabled: s.Enabled(name),
			params:  func() (map[string]any, bool) { return p.block(name, s.BassboostGain) },
		})
	}
	return entries
}

// Compose merges the parameter blocks of every enabled filter with a known
// profile. Merging is shallow and last-write-wins on key collision.
func Compose(s Set, p *Profiles) map[string]any {
	composed := make(map[string]any)
	for _, e := range s.entries(p) {
		if !e.enabled {
			continue
		}
		block, ok := e.params()
		if !ok {
			continue
		}
		for k, v := range block {
			composed[k] = v
		}
	}
	return composed
}
