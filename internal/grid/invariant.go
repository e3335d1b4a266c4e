package grid

// InvariantViolation is the panic value raised when grid state contradicts itself.
// It signals a defect in this package, never bad player input.
type InvariantViolation struct {
	Detail string
}

func (v InvariantViolation) Error() string { return "grid invariant violated: " + v.Detail }

// FleetMatches reports whether the ship lengths equal the expected fleet as a multiset.
// An empty fleet accepts any non-empty set of ships.
func FleetMatches(ships []Ship, fleet []int) bool {
	if len(fleet) == 0 {
		return len(ships) > 0
	}
	if len(ships) != len(fleet) {
		return false
	}
	want := make(map[int]int, len(fleet))
	for _, l := range fleet {
		want[l]++
	}
	for _, s := range ships {
		want[s.Len()]--
		if want[s.Len()] < 0 {
			return false
		}
	}
	return true
}
