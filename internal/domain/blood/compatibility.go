package blood

// antigens reports the A and B antigens and the RhD factor of a group.
func antigens(g Group) (a, b, rh bool) {
	switch g {
	case APos:
		return true, false, true
	case ANeg:
		return true, false, false
	case BPos:
		return false, true, true
	case BNeg:
		return false, true, false
	case ABPos:
		return true, true, true
	case ABNeg:
		return true, true, false
	case OPos:
		return false, false, true
	}
	return false, false, false
}

// plasmaBased reports whether compatibility for c follows plasma rules, where
// the donor must not carry antibodies against the recipient's red cells.
func plasmaBased(c Component) bool {
	return c == Plasma || c == Cryoprecipitate
}

// CanDonate reports whether a unit of group donor and component c may be
// given to a recipient of group recipient. An empty component is treated as
// red-cell bearing.
func CanDonate(donor, recipient Group, c Component) bool {
	da, db, drh := antigens(donor)
	ra, rb, rrh := antigens(recipient)
	if plasmaBased(c) {
		return (!ra || da) && (!rb || db)
	}
	if (da && !ra) || (db && !rb) {
		return false
	}
	return !drh || rrh
}

// CompatibleDonors returns the donor groups acceptable for recipient, the
// recipient's own group first.
func CompatibleDonors(recipient Group, c Component) []Group {
	out := []Group{recipient}
	for _, g := range Groups {
		if g != recipient && CanDonate(g, recipient, c) {
			out = append(out, g)
		}
	}
	return out
}
