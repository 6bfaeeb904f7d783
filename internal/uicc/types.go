package uicc

import (
	"fmt"
	"slices"
	"strings"
)

// UninitializedCardID is returned whenever a public card ID is not known:
// the identifier was null or empty, or no eUICC has been resolved yet.
const UninitializedCardID = -2

// InvalidPhoneIndex marks a port that is not mapped to a phone instance.
const InvalidPhoneIndex = -1

// InvalidSlotIndex marks a slot/port mapping the modem did not fill in.
const InvalidSlotIndex = -1

// CardState is the presence state of the card in a physical slot.
type CardState int

// Card states reported by the modem.
const (
	CardStateAbsent CardState = iota
	CardStatePresent
	CardStateError
	CardStateRestricted

	// CardStateUnknown marks a slot-status entry that did not report a
	// state. It is never parsed from the wire.
	CardStateUnknown
)

var cardStateNames = map[CardState]string{
	CardStateAbsent:     "absent",
	CardStatePresent:    "present",
	CardStateError:      "error",
	CardStateRestricted: "restricted",
}

// String returns the lower-case name of the card state.
func (s CardState) String() string {
	if s == CardStateUnknown {
		return "unknown"
	}
	if name, ok := cardStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// IsPresent reports whether a card object should exist for this state.
// Error and restricted cards are physically present.
func (s CardState) IsPresent() bool {
	return s == CardStatePresent || s == CardStateError || s == CardStateRestricted
}

// ParseCardState converts a wire name into a CardState.
func ParseCardState(name string) (CardState, error) {
	for s, n := range cardStateNames {
		if strings.EqualFold(n, name) {
			return s, nil
		}
	}
	return CardStateAbsent, fmt.Errorf("unknown card state %q", name)
}

// MEPMode is the multiple-enabled-profiles mode a slot supports.
type MEPMode int

// Supported MEP modes.
const (
	MEPModeNone MEPMode = iota
	MEPModeA1
	MEPModeA2
	MEPModeB
)

// String returns the mode name used on the wire.
func (m MEPMode) String() string {
	switch m {
	case MEPModeA1:
		return "a1"
	case MEPModeA2:
		return "a2"
	case MEPModeB:
		return "b"
	default:
		return "none"
	}
}

// ParseMEPMode converts a wire name into an MEPMode. Unknown names map to none.
func ParseMEPMode(name string) MEPMode {
	switch strings.ToLower(name) {
	case "a1":
		return MEPModeA1
	case "a2":
		return MEPModeA2
	case "b":
		return MEPModeB
	default:
		return MEPModeNone
	}
}

// SlotState is the lifecycle state of a physical slot.
type SlotState string

// Slot lifecycle states.
const (
	SlotStateAbsent           SlotState = "absent"
	SlotStatePresentPendingID SlotState = "present_pending_id"
	SlotStatePresentResolved  SlotState = "present_resolved"
)

// RadioState is the power state of the modem.
type RadioState int

// Radio power states.
const (
	RadioUnavailable RadioState = iota
	RadioOff
	RadioOn
)

// String returns the lower-case name of the radio state.
func (r RadioState) String() string {
	switch r {
	case RadioOff:
		return "off"
	case RadioOn:
		return "on"
	default:
		return "unavailable"
	}
}

// ParseRadioState converts a wire name into a RadioState.
func ParseRadioState(name string) (RadioState, error) {
	switch strings.ToLower(name) {
	case "unavailable":
		return RadioUnavailable, nil
	case "off":
		return RadioOff, nil
	case "on":
		return RadioOn, nil
	default:
		return RadioUnavailable, fmt.Errorf("unknown radio state %q", name)
	}
}

// Application is one SIM application (USIM, CSIM, ISIM...) reported on a card.
type Application struct {
	Type  string `json:"type"`
	State string `json:"state"`
	AID   string `json:"aid,omitempty"`
}

// Port is a logical channel within a slot.
type Port struct {
	Index int

	// ICCID is stored raw and may carry trailing filler.
	ICCID string

	// PhoneIndex is the logical slot, or InvalidPhoneIndex when unmapped.
	PhoneIndex int

	Active bool
}

// Card is the card object instantiated for an occupied slot.
type Card struct {
	// InternalID is a process-local handle; a new card object gets a new one.
	InternalID int64

	// PublicCardID is UninitializedCardID until resolved.
	PublicCardID int

	EID          string
	ICCID        string
	State        CardState
	Applications []Application
}

// DeepCopy returns a copy that shares no memory with c.
func (c *Card) DeepCopy() *Card {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Applications = slices.Clone(c.Applications)
	return &cp
}

// PhysicalSlot is the state of one card-insertion point.
type PhysicalSlot struct {
	Index       int
	IsEuicc     bool
	IsRemovable bool
	CardState   CardState
	Ports       []Port
	MEPMode     MEPMode

	// EID is the last EID known for the slot from any source.
	EID string

	// PublicCardID is the resolved identity of the eUICC in this slot.
	PublicCardID int

	// Card is nil while the slot is absent or the radio is unavailable.
	Card *Card
}

// DeepCopy returns a copy that shares no memory with s.
func (s *PhysicalSlot) DeepCopy() *PhysicalSlot {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Ports = slices.Clone(s.Ports)
	cp.Card = s.Card.DeepCopy()
	return &cp
}

// IsActive reports whether any port of the slot is active.
func (s *PhysicalSlot) IsActive() bool {
	for _, p := range s.Ports {
		if p.Active {
			return true
		}
	}
	return false
}

// State derives the lifecycle state of the slot.
func (s *PhysicalSlot) State() SlotState {
	if s.Card == nil && !s.CardState.IsPresent() {
		return SlotStateAbsent
	}
	if s.PublicCardID != UninitializedCardID {
		return SlotStatePresentResolved
	}
	if s.Card != nil && s.Card.PublicCardID != UninitializedCardID {
		return SlotStatePresentResolved
	}
	return SlotStatePresentPendingID
}

// Port returns the port with the given index.
func (s *PhysicalSlot) Port(index int) (Port, bool) {
	for _, p := range s.Ports {
		if p.Index == index {
			return p, true
		}
	}
	return Port{}, false
}

// lowestActivePhone returns the lowest phone index mapped by an active port.
func (s *PhysicalSlot) lowestActivePhone() (int, bool) {
	lowest, found := 0, false
	for _, p := range s.Ports {
		if !p.Active || p.PhoneIndex < 0 {
			continue
		}
		if !found || p.PhoneIndex < lowest {
			lowest, found = p.PhoneIndex, true
		}
	}
	return lowest, found
}

// PortInfo describes one port in a CardInfo report.
type PortInfo struct {
	ICCID      string `json:"iccid"`
	PortIndex  int    `json:"port_index"`
	PhoneIndex int    `json:"logical_slot_index"`
	Active     bool   `json:"active"`
}

// CardInfo is the externally visible description of one slot and its card.
type CardInfo struct {
	IsEuicc                          bool       `json:"is_euicc"`
	CardID                           int        `json:"card_id"`
	EID                              string     `json:"eid,omitempty"`
	SlotIndex                        int        `json:"slot_index"`
	IsRemovable                      bool       `json:"is_removable"`
	MultipleEnabledProfilesSupported bool       `json:"mep_supported"`
	Ports                            []PortInfo `json:"ports"`
}

// Equal reports whether two CardInfo values describe the same state.
func (c CardInfo) Equal(o CardInfo) bool {
	return c.IsEuicc == o.IsEuicc &&
		c.CardID == o.CardID &&
		c.EID == o.EID &&
		c.SlotIndex == o.SlotIndex &&
		c.IsRemovable == o.IsRemovable &&
		c.MultipleEnabledProfilesSupported == o.MultipleEnabledProfilesSupported &&
		slices.Equal(c.Ports, o.Ports)
}
