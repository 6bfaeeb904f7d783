package uicc

// Event is one input to the Engine. The set is closed: PowerChanged,
// CardStatusReceived, SlotStatusReceived and EidReady.
type Event interface {
	isEvent()
}

// PowerChanged reports a new radio power state.
type PowerChanged struct {
	State RadioState
}

// CardStatusReceived carries a card-status response for one phone.
// Token echoes the request token; an empty token marks an unsolicited report.
type CardStatusReceived struct {
	Token      string
	PhoneIndex int
	Status     CardStatus
}

// SlotStatusReceived carries a slot-status report for all slots.
// Token echoes the request token; an empty token marks an unsolicited report.
type SlotStatusReceived struct {
	Token    string
	Statuses []SlotStatus
}

// EidReady reports that the EID of the card in a slot can now be read.
type EidReady struct {
	SlotIndex int
}

func (PowerChanged) isEvent()       {}
func (CardStatusReceived) isEvent() {}
func (SlotStatusReceived) isEvent() {}
func (EidReady) isEvent()           {}
