package uicc

import "slices"

// SlotPortMapping locates the slot and port a card status refers to.
// Older modems leave PhysicalSlotIndex at InvalidSlotIndex.
type SlotPortMapping struct {
	PhysicalSlotIndex int
	PortIndex         int
}

// CardStatus is the modem's answer to a card-status request for one phone.
type CardStatus struct {
	CardState    CardState
	Mapping      SlotPortMapping
	EID          string
	ICCID        string
	MEPMode      MEPMode
	Applications []Application
}

// PortStatus is the per-port part of a slot-status entry.
type PortStatus struct {
	PortIndex  int
	Active     bool
	ICCID      string
	PhoneIndex int
}

// SlotStatus is one entry of a slot-status report.
type SlotStatus struct {
	SlotIndex   int
	CardState   CardState
	EID         string
	IsEuicc     bool
	IsRemovable bool
	MEPMode     MEPMode
	Ports       []PortStatus
}

// Equal reports whether two entries carry the same values.
func (s SlotStatus) Equal(o SlotStatus) bool {
	return s.SlotIndex == o.SlotIndex &&
		s.CardState == o.CardState &&
		s.EID == o.EID &&
		s.IsEuicc == o.IsEuicc &&
		s.IsRemovable == o.IsRemovable &&
		s.MEPMode == o.MEPMode &&
		slices.Equal(s.Ports, o.Ports)
}

// slotStatusesEqual compares two reports element by element, so the same
// entries in a different order count as a change.
// TODO: compare as a set keyed by SlotIndex once modems are confirmed to
// never reorder entries without a real topology change.
func slotStatusesEqual(a, b []SlotStatus) bool {
	return slices.EqualFunc(a, b, SlotStatus.Equal)
}

func cloneSlotStatuses(in []SlotStatus) []SlotStatus {
	out := make([]SlotStatus, len(in))
	for i, s := range in {
		s.Ports = slices.Clone(s.Ports)
		out[i] = s
	}
	return out
}
