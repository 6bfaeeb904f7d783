package modem

import (
	"fmt"
	"time"

	"github.com/nerrad567/cardslot-core/internal/uicc"
)

// CardStatusRequest asks the modem service for one phone's card status.
// Topic: cardslot/request/modem/card_status
type CardStatusRequest struct {
	Token     string    `json:"token"`
	Phone     int       `json:"phone"`
	Timestamp time.Time `json:"timestamp"`
}

// SlotStatusRequest asks for the status of every physical slot.
// Topic: cardslot/request/modem/slot_status
type SlotStatusRequest struct {
	Token     string    `json:"token"`
	Timestamp time.Time `json:"timestamp"`
}

// ApplicationMessage is one SIM application on the card.
type ApplicationMessage struct {
	Type  string `json:"type"`
	State string `json:"state"`
	AID   string `json:"aid,omitempty"`
}

// CardStatusResponse answers a CardStatusRequest. An empty token marks an
// unsolicited report. PhysicalSlot is omitted by modems that do not report
// the slot mapping.
// Topic: cardslot/response/modem/card_status
type CardStatusResponse struct {
	Token        string               `json:"token,omitempty"`
	Phone        int                  `json:"phone"`
	CardState    string               `json:"card_state"`
	PhysicalSlot *int                 `json:"physical_slot,omitempty"`
	Port         int                  `json:"port"`
	EID          string               `json:"eid,omitempty"`
	ICCID        string               `json:"iccid,omitempty"`
	MEPMode      string               `json:"mep_mode,omitempty"`
	Applications []ApplicationMessage `json:"applications,omitempty"`
}

// PortMessage is one port of a SlotMessage.
type PortMessage struct {
	Port   int    `json:"port"`
	Active bool   `json:"active"`
	ICCID  string `json:"iccid,omitempty"`
	Phone  int    `json:"phone"`
}

// SlotMessage is one slot of a SlotStatusResponse. CardState may be
// omitted; the slot's current state is then kept.
type SlotMessage struct {
	Slot        int           `json:"slot"`
	CardState   string        `json:"card_state,omitempty"`
	EID         string        `json:"eid,omitempty"`
	IsEuicc     bool          `json:"is_euicc"`
	IsRemovable bool          `json:"is_removable"`
	MEPMode     string        `json:"mep_mode,omitempty"`
	Ports       []PortMessage `json:"ports"`
}

// SlotStatusResponse answers a SlotStatusRequest, or reports a slot change
// unsolicited when Token is empty.
// Topic: cardslot/response/modem/slot_status
type SlotStatusResponse struct {
	Token string        `json:"token,omitempty"`
	Slots []SlotMessage `json:"slots"`
}

// RadioStateEvent reports a radio power change: unavailable, off or on.
// Topic: cardslot/event/modem/radio_state
type RadioStateEvent struct {
	State string `json:"state"`
}

// EidReadyEvent reports that the EID of the card in Slot has been read.
// Topic: cardslot/event/modem/eid_ready
type EidReadyEvent struct {
	Slot int    `json:"slot"`
	EID  string `json:"eid"`
}

// CardsStateMessage is the retained view of every slot.
// Topic: cardslot/state/cards
type CardsStateMessage struct {
	Reason       string          `json:"reason"`
	DefaultEuicc int             `json:"default_euicc_card_id"`
	Cards        []uicc.CardInfo `json:"cards"`
	Timestamp    time.Time       `json:"timestamp"`
}

// DefaultEuiccMessage is the retained default eUICC card ID.
// Topic: cardslot/state/default_euicc
type DefaultEuiccMessage struct {
	CardID    int       `json:"card_id"`
	Timestamp time.Time `json:"timestamp"`
}

// toCardStatus converts the wire form. A missing physical slot becomes
// uicc.InvalidSlotIndex.
func (m CardStatusResponse) toCardStatus() (uicc.CardStatus, error) {
	state, err := uicc.ParseCardState(m.CardState)
	if err != nil {
		return uicc.CardStatus{}, err
	}

	slot := uicc.InvalidSlotIndex
	if m.PhysicalSlot != nil {
		slot = *m.PhysicalSlot
	}

	var apps []uicc.Application
	for _, a := range m.Applications {
		apps = append(apps, uicc.Application{Type: a.Type, State: a.State, AID: a.AID})
	}

	return uicc.CardStatus{
		CardState:    state,
		Mapping:      uicc.SlotPortMapping{PhysicalSlotIndex: slot, PortIndex: m.Port},
		EID:          m.EID,
		ICCID:        m.ICCID,
		MEPMode:      uicc.ParseMEPMode(m.MEPMode),
		Applications: apps,
	}, nil
}

// toSlotStatuses converts the wire form entry by entry. A missing card
// state becomes uicc.CardStateUnknown; an unparseable one skips only that
// entry and is returned in skipped.
func (m SlotStatusResponse) toSlotStatuses() (statuses []uicc.SlotStatus, skipped []error) {
	statuses = make([]uicc.SlotStatus, 0, len(m.Slots))
	for _, s := range m.Slots {
		state := uicc.CardStateUnknown
		if s.CardState != "" {
			parsed, err := uicc.ParseCardState(s.CardState)
			if err != nil {
				skipped = append(skipped, fmt.Errorf("slot %d: %w", s.Slot, err))
				continue
			}
			state = parsed
		}
		ports := make([]uicc.PortStatus, 0, len(s.Ports))
		for _, p := range s.Ports {
			ports = append(ports, uicc.PortStatus{
				PortIndex:  p.Port,
				Active:     p.Active,
				ICCID:      p.ICCID,
				PhoneIndex: p.Phone,
			})
		}
		statuses = append(statuses, uicc.SlotStatus{
			SlotIndex:   s.Slot,
			CardState:   state,
			EID:         s.EID,
			IsEuicc:     s.IsEuicc,
			IsRemovable: s.IsRemovable,
			MEPMode:     uicc.ParseMEPMode(s.MEPMode),
			Ports:       ports,
		})
	}
	return statuses, skipped
}
