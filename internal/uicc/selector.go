package uicc

// SelectDefaultEuicc picks the public card ID of the default eUICC.
//
// Only eUICC slots with a resolved identity are eligible. Built-in slots
// beat removable ones regardless of index. Within a class, a slot with an
// active port mapped to the lowest phone wins; slots with no mapped active
// port come after, ordered by physical index. Returns UninitializedCardID
// when nothing is eligible.
func SelectDefaultEuicc(slots []PhysicalSlot) int {
	best := -1
	for i := range slots {
		if !eligibleEuicc(&slots[i]) {
			continue
		}
		if best < 0 || preferEuicc(&slots[i], &slots[best]) {
			best = i
		}
	}
	if best < 0 {
		return UninitializedCardID
	}
	return slots[best].PublicCardID
}

func eligibleEuicc(s *PhysicalSlot) bool {
	return s.IsEuicc && s.PublicCardID != UninitializedCardID
}

// preferEuicc reports whether a should be chosen over b.
func preferEuicc(a, b *PhysicalSlot) bool {
	if a.IsRemovable != b.IsRemovable {
		return !a.IsRemovable
	}

	aPhone, aActive := a.lowestActivePhone()
	bPhone, bActive := b.lowestActivePhone()
	switch {
	case aActive && !bActive:
		return true
	case !aActive && bActive:
		return false
	case aActive && bActive && aPhone != bPhone:
		return aPhone < bPhone
	}
	return a.Index < b.Index
}
