package mqtt

import "fmt"

// TopicPrefix roots every topic the daemon uses.
const TopicPrefix = "cardslot"

// Modem message kinds used in request, response and event topics.
const (
	KindCardStatus = "card_status"
	KindSlotStatus = "slot_status"
	KindRadioState = "radio_state"
	KindEidReady   = "eid_ready"
)

// Topics builds cardslot topic strings.
//
//	mqtt.Topics{}.ModemRequest(mqtt.KindCardStatus)
//	// "cardslot/request/modem/card_status"
type Topics struct{}

// ModemRequest is where the daemon asks the modem service for status.
func (Topics) ModemRequest(kind string) string {
	return fmt.Sprintf("%s/request/modem/%s", TopicPrefix, kind)
}

// ModemResponse is where the modem service answers a request.
func (Topics) ModemResponse(kind string) string {
	return fmt.Sprintf("%s/response/modem/%s", TopicPrefix, kind)
}

// ModemEvent carries unsolicited indications from the modem service.
func (Topics) ModemEvent(kind string) string {
	return fmt.Sprintf("%s/event/modem/%s", TopicPrefix, kind)
}

// AllModemResponses matches every response topic.
func (Topics) AllModemResponses() string {
	return TopicPrefix + "/response/modem/+"
}

// AllModemEvents matches every indication topic.
func (Topics) AllModemEvents() string {
	return TopicPrefix + "/event/modem/+"
}

// StateCards holds the retained list of card infos, one per slot.
func (Topics) StateCards() string {
	return TopicPrefix + "/state/cards"
}

// StateDefaultEuicc holds the retained default eUICC card ID.
func (Topics) StateDefaultEuicc() string {
	return TopicPrefix + "/state/default_euicc"
}

// StateSlot holds the retained card info of one physical slot.
func (Topics) StateSlot(index int) string {
	return fmt.Sprintf("%s/state/slot/%d", TopicPrefix, index)
}

// SystemStatus is the daemon's retained online/offline topic.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// KindFromTopic returns the last topic level, e.g. "eid_ready".
func KindFromTopic(topic string) string {
	for i := len(topic) - 1; i >= 0; i-- {
		if topic[i] == '/' {
			return topic[i+1:]
		}
	}
	return topic
}
