package uicc

import "context"

// UiccSlot returns a copy of the physical slot at index.
func (e *Engine) UiccSlot(index int) (*PhysicalSlot, bool) {
	return e.registry.Slot(index)
}

// CardForSlot returns a copy of the card in the slot at index.
// There is no card while the slot is absent or the radio is unavailable.
func (e *Engine) CardForSlot(index int) (*Card, bool) {
	return e.registry.CardForSlot(index)
}

// SlotIndexForPhone returns the physical slot mapped to phone.
func (e *Engine) SlotIndexForPhone(phone int) (int, bool) {
	return e.registry.SlotIndexForPhone(phone)
}

// CardForPhone returns a copy of the card in the slot mapped to phone.
func (e *Engine) CardForPhone(phone int) (*Card, bool) {
	return e.registry.CardForPhone(phone)
}

// ConvertToPublicCardID returns the public card ID for an ICCID or EID,
// allocating one if the identifier is new. Null or empty identifiers, and
// store failures, return UninitializedCardID.
func (e *Engine) ConvertToPublicCardID(identifier string) int {
	return e.resolve(context.Background(), identifier)
}

// CardIDForDefaultEuicc returns the public card ID of the default eUICC,
// or UninitializedCardID if no eUICC identity is known yet.
func (e *Engine) CardIDForDefaultEuicc() int {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.defaultEuicc
}

// RadioState returns the last radio power state seen.
func (e *Engine) RadioState() RadioState {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.radioState
}

// AllCardInfos describes every configured slot in index order.
func (e *Engine) AllCardInfos() []CardInfo {
	var infos []CardInfo
	e.registry.view(func(slots []PhysicalSlot) {
		infos = make([]CardInfo, 0, len(slots))
		for i := range slots {
			infos = append(infos, cardInfo(&slots[i]))
		}
	})
	return infos
}

// cardInfo builds the report for one slot. Without a card object the card
// ID is unknown and only slot data is reported.
func cardInfo(s *PhysicalSlot) CardInfo {
	info := CardInfo{
		IsEuicc:                          s.IsEuicc,
		CardID:                           UninitializedCardID,
		SlotIndex:                        s.Index,
		IsRemovable:                      s.IsRemovable,
		MultipleEnabledProfilesSupported: s.MEPMode != MEPModeNone,
		Ports:                            make([]PortInfo, 0, len(s.Ports)),
	}

	if s.Card != nil {
		info.CardID = s.Card.PublicCardID
		if s.IsEuicc {
			info.EID = s.Card.EID
		}
	}

	for _, p := range s.Ports {
		info.Ports = append(info.Ports, PortInfo{
			ICCID:      NormalizeIdentifier(p.ICCID),
			PortIndex:  p.Index,
			PhoneIndex: p.PhoneIndex,
			Active:     p.Active,
		})
	}
	return info
}
