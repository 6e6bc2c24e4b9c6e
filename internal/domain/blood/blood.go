package blood

import (
	"fmt"
	"strings"
	"time"
)

// Group is an ABO/Rh blood group.
type Group string

const (
	APos  Group = "A+"
	ANeg  Group = "A-"
	BPos  Group = "B+"
	BNeg  Group = "B-"
	ABPos Group = "AB+"
	ABNeg Group = "AB-"
	OPos  Group = "O+"
	ONeg  Group = "O-"
)

// Groups lists every blood group in display order.
var Groups = []Group{APos, ANeg, BPos, BNeg, ABPos, ABNeg, OPos, ONeg}

// ParseGroup accepts the canonical form ("AB-") as well as the unicode minus,
// a trailing space left by an unescaped "+" in a query string, and the
// "pos"/"neg" suffixes.
func ParseGroup(s string) (Group, error) {
	if strings.HasSuffix(s, " ") && len(strings.TrimSpace(s)) > 0 {
		s = strings.TrimSpace(s) + "+"
	}
	v := strings.ToUpper(strings.TrimSpace(s))
	v = strings.ReplaceAll(v, "−", "-")
	switch {
	case strings.HasSuffix(v, "POS"):
		v = strings.TrimSuffix(v, "POS") + "+"
	case strings.HasSuffix(v, "NEG"):
		v = strings.TrimSuffix(v, "NEG") + "-"
	}
	for _, g := range Groups {
		if string(g) == v {
			return g, nil
		}
	}
	return "", Invalid("blood_group", fmt.Sprintf("%q is not a valid blood group", s))
}

func (g Group) Valid() bool {
	for _, v := range Groups {
		if v == g {
			return true
		}
	}
	return false
}

// Component is a blood product derived from a donation.
type Component string

const (
	WholeBlood      Component = "Whole Blood"
	PackedRBC       Component = "Packed RBC"
	Platelets       Component = "Platelets"
	Plasma          Component = "Plasma"
	Cryoprecipitate Component = "Cryoprecipitate"
)

var Components = []Component{WholeBlood, PackedRBC, Platelets, Plasma, Cryoprecipitate}

const day = 24 * time.Hour

var shelfLife = map[Component]time.Duration{
	WholeBlood:      35 * day,
	PackedRBC:       35 * day,
	Platelets:       5 * day,
	Plasma:          365 * day,
	Cryoprecipitate: 365 * day,
}

// ShelfLife returns how long a component stays usable after collection.
func ShelfLife(c Component) time.Duration {
	return shelfLife[c]
}

// StoredAs returns the component a collection of c is kept as in stock.
// Whole-blood donations are separated and shelved as packed red cells.
func StoredAs(c Component) Component {
	if c == WholeBlood {
		return PackedRBC
	}
	return c
}

// ParseComponent matches component names case-insensitively. "any" and the
// empty string yield the zero Component, which callers treat as a wildcard.
func ParseComponent(s string) (Component, error) {
	v := strings.TrimSpace(s)
	if v == "" || strings.EqualFold(v, "any") {
		return "", nil
	}
	norm := strings.ToLower(strings.NewReplacer("_", " ", "-", " ").Replace(v))
	for _, c := range Components {
		if strings.ToLower(string(c)) == norm {
			return c, nil
		}
	}
	switch norm {
	case "rbc", "packed red cells", "red cells":
		return PackedRBC, nil
	case "cryo":
		return Cryoprecipitate, nil
	}
	return "", Invalid("component_type", fmt.Sprintf("%q is not a valid component type", s))
}

func (c Component) Valid() bool {
	_, ok := shelfLife[c]
	return ok
}

// Priority of a blood request.
type Priority string

const (
	PriorityNormal    Priority = "Normal"
	PriorityUrgent    Priority = "Urgent"
	PriorityEmergency Priority = "Emergency"
)

func (p Priority) Valid() bool {
	return p == PriorityNormal || p == PriorityUrgent || p == PriorityEmergency
}
