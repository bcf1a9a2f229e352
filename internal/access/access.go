// Package access implements the knowledge-sensitivity gate shared by search,
// traversal and compatibility analysis.
package access

import (
	"fmt"
	"strings"
)

// Threshold is the sensitivity classification of a record, T1 (least
// sensitive) through T8.
type Threshold int

const (
	T1 Threshold = iota + 1
	T2
	T3
	T4
	T5
	T6
	T7
	T8
)

// Level is a caller's clearance.
type Level int

const (
	Public Level = iota + 1
	Registered
	Professional
	Expert
)

// minimumLevel maps every threshold onto the lowest clearance allowed to see it.
var minimumLevel = map[Threshold]Level{
	T1: Public,
	T2: Public,
	T3: Registered,
	T4: Registered,
	T5: Professional,
	T6: Professional,
	T7: Expert,
	T8: Expert,
}

// MinimumLevel returns the clearance required for t. Unknown thresholds
// require Expert.
func MinimumLevel(t Threshold) Level {
	if l, ok := minimumLevel[t]; ok {
		return l
	}
	return Expert
}

// IsVisible reports whether a record classified at t may be shown to a
// caller holding level.
func IsVisible(t Threshold, level Level) bool {
	if !level.Valid() {
		return false
	}
	return level >= MinimumLevel(t)
}

// Valid reports whether t is one of T1..T8.
func (t Threshold) Valid() bool { return t >= T1 && t <= T8 }

func (t Threshold) String() string {
	if !t.Valid() {
		return fmt.Sprintf("Threshold(%d)", int(t))
	}
	return fmt.Sprintf("T%d", int(t))
}

// MarshalText encodes t as "T1".."T8".
func (t Threshold) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid threshold %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText accepts "T1".."T8" (case-insensitive).
func (t *Threshold) UnmarshalText(b []byte) error {
	parsed, err := ParseThreshold(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseThreshold parses "T3" or "t3".
func ParseThreshold(s string) (Threshold, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) == 2 && s[0] == 'T' && s[1] >= '1' && s[1] <= '8' {
		return Threshold(s[1] - '0'), nil
	}
	return 0, fmt.Errorf("invalid knowledge threshold %q", s)
}

var levelNames = map[Level]string{
	Public:       "PUBLIC",
	Registered:   "REGISTERED",
	Professional: "PROFESSIONAL",
	Expert:       "EXPERT",
}

// Valid reports whether l is a known clearance.
func (l Level) Valid() bool {
	_, ok := levelNames[l]
	return ok
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// MarshalText encodes l by name.
func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid access level %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText accepts the level name (case-insensitive).
func (l *Level) UnmarshalText(b []byte) error {
	parsed, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel parses a clearance name such as "professional".
func ParseLevel(s string) (Level, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for l, name := range levelNames {
		if name == s {
			return l, nil
		}
	}
	return 0, fmt.Errorf("invalid access level %q", s)
}
