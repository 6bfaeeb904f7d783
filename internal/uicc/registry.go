package uicc

import (
	"slices"
	"sync"
)

// Registry is the fixed-size table of physical slots.
//
// The slot count is set at construction and never changes. Only the Engine
// mutates slots, via mutate; every other caller gets deep copies.
//
// All public methods are thread-safe.
type Registry struct {
	mu    sync.RWMutex
	slots []PhysicalSlot
}

// NewRegistry creates a registry of count absent slots. Slots listed in
// nonRemovableEuiccs start as built-in eUICCs; all others are removable.
func NewRegistry(count int, nonRemovableEuiccs []int) *Registry {
	slots := make([]PhysicalSlot, count)
	for i := range slots {
		builtIn := slices.Contains(nonRemovableEuiccs, i)
		slots[i] = PhysicalSlot{
			Index:        i,
			IsEuicc:      builtIn,
			IsRemovable:  !builtIn,
			CardState:    CardStateAbsent,
			PublicCardID: UninitializedCardID,
		}
	}
	return &Registry{slots: slots}
}

// SlotCount returns the configured number of physical slots.
func (r *Registry) SlotCount() int {
	return len(r.slots)
}

// Slot returns a copy of the slot at index.
func (r *Registry) Slot(index int) (*PhysicalSlot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if index < 0 || index >= len(r.slots) {
		return nil, false
	}
	return r.slots[index].DeepCopy(), true
}

// Slots returns copies of all slots in index order.
func (r *Registry) Slots() []PhysicalSlot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copySlots(r.slots)
}

// CardForSlot returns a copy of the card in the slot at index.
func (r *Registry) CardForSlot(index int) (*Card, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if index < 0 || index >= len(r.slots) || r.slots[index].Card == nil {
		return nil, false
	}
	return r.slots[index].Card.DeepCopy(), true
}

// CardForPhone returns a copy of the card in the slot mapped to phone.
func (r *Registry) CardForPhone(phone int) (*Card, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i := slotIndexForPhone(r.slots, phone)
	if i < 0 || r.slots[i].Card == nil {
		return nil, false
	}
	return r.slots[i].Card.DeepCopy(), true
}

// SlotIndexForPhone returns the physical slot mapped to phone.
func (r *Registry) SlotIndexForPhone(phone int) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i := slotIndexForPhone(r.slots, phone)
	return i, i >= 0
}

// SlotIndexForCard returns the slot holding the card object with internalID.
func (r *Registry) SlotIndexForCard(internalID int64) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := range r.slots {
		if c := r.slots[i].Card; c != nil && c.InternalID == internalID {
			return i, true
		}
	}
	return InvalidSlotIndex, false
}

// mutate runs fn with exclusive access to the live slots.
func (r *Registry) mutate(fn func(slots []PhysicalSlot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.slots)
}

// view runs fn with shared access to the live slots. fn must not retain them.
func (r *Registry) view(fn func(slots []PhysicalSlot)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn(r.slots)
}

func slotIndexForPhone(slots []PhysicalSlot, phone int) int {
	if phone < 0 {
		return InvalidSlotIndex
	}
	for i := range slots {
		for _, p := range slots[i].Ports {
			if p.PhoneIndex == phone {
				return i
			}
		}
	}
	return InvalidSlotIndex
}

// unbindPhone clears phone from every port except (keepSlot, keepPort),
// keeping at most one slot per phone. It reports whether a port lost it.
func unbindPhone(slots []PhysicalSlot, phone, keepSlot, keepPort int) bool {
	if phone < 0 {
		return false
	}
	cleared := false
	for i := range slots {
		for j := range slots[i].Ports {
			p := &slots[i].Ports[j]
			if p.PhoneIndex != phone || (i == keepSlot && p.Index == keepPort) {
				continue
			}
			p.PhoneIndex = InvalidPhoneIndex
			cleared = true
		}
	}
	return cleared
}

func copySlots(in []PhysicalSlot) []PhysicalSlot {
	out := make([]PhysicalSlot, len(in))
	for i := range in {
		out[i] = *in[i].DeepCopy()
	}
	return out
}
