package domain

// AllowedTransition reports whether an inventory status change is permitted.
// The table is a whitelist: AVAILABLE and RESERVED swap freely (holds), a
// sale moves AVAILABLE to SOLD, and the single sanctioned exit from SOLD is
// back to AVAILABLE on the reversal path. A blanket "no change once SOLD"
// rule would block legitimate reversals, so the reversal case is matched
// explicitly via the viaReversal flag.
func AllowedTransition(from, to string, viaReversal bool) bool {
	switch {
	case from == ItemStatusAvailable && to == ItemStatusReserved:
		return true
	case from == ItemStatusReserved && to == ItemStatusAvailable:
		return true
	case from == ItemStatusAvailable && to == ItemStatusSold:
		return true
	case from == ItemStatusSold && to == ItemStatusAvailable:
		return viaReversal
	default:
		return false
	}
}

// ValidStatus reports whether s is one of the three item lifecycle states.
func ValidStatus(s string) bool {
	return s == ItemStatusAvailable || s == ItemStatusReserved || s == ItemStatusSold
}
