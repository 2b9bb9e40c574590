// Package advisor holds the product knowledge of the career advisor: the
// selectable voice personas, the audience modes, and the prompts sent to the
// speech and text models for each mode.
package advisor

import (
	"fmt"
	"strings"
)

// Persona identifies a synthesized voice of the realtime speech model.
// The identifier is passed through to the service unchanged.
type Persona string

// Supported voice personas.
const (
	Alloy   Persona = "alloy"
	Ash     Persona = "ash"
	Ballad  Persona = "ballad"
	Coral   Persona = "coral"
	Echo    Persona = "echo"
	Sage    Persona = "sage"
	Shimmer Persona = "shimmer"
	Verse   Persona = "verse"
)

// DefaultPersona is used when no persona is configured.
const DefaultPersona = Shimmer

// PersonaInfo describes a persona for selection menus.
type PersonaInfo struct {
	ID          Persona
	Name        string
	Description string
}

var personas = []PersonaInfo{
	{ID: Alloy, Name: "Alloy", Description: "Neutral & balanced"},
	{ID: Ash, Name: "Ash", Description: "Warm & conversational"},
	{ID: Ballad, Name: "Ballad", Description: "Soft & thoughtful"},
	{ID: Coral, Name: "Coral", Description: "Clear & professional"},
	{ID: Echo, Name: "Echo", Description: "Calm & measured"},
	{ID: Sage, Name: "Sage", Description: "Wise & reassuring"},
	{ID: Shimmer, Name: "Shimmer", Description: "Bright & energetic"},
	{ID: Verse, Name: "Verse", Description: "Expressive & dynamic"},
}

// Personas returns all selectable personas in menu order.
func Personas() []PersonaInfo {
	out := make([]PersonaInfo, len(personas))
	copy(out, personas)
	return out
}

// Lookup returns the description of p.
func Lookup(p Persona) (PersonaInfo, bool) {
	for _, info := range personas {
		if info.ID == p {
			return info, true
		}
	}
	return PersonaInfo{}, false
}

// Valid reports whether p is a known persona.
func (p Persona) Valid() bool {
	_, ok := Lookup(p)
	return ok
}

// ParsePersona parses a persona identifier case-insensitively. An empty
// string yields [DefaultPersona].
func ParsePersona(s string) (Persona, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultPersona, nil
	}
	p := Persona(s)
	if !p.Valid() {
		return "", fmt.Errorf("advisor: unknown persona %q", s)
	}
	return p, nil
}
