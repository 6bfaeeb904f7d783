// Package mqtt connects the daemon to the broker shared with the modem
// service.
//
// The modem service owns the radio. It answers card-status and slot-status
// requests on response topics, and raises radio-state and EID-ready
// indications on event topics. The daemon publishes its reconciled card
// view as retained state:
//
//	cardslotd ↔ MQTT broker ↔ modem service
//
// Topic layout (see Topics):
//
//	cardslot/request/modem/{card_status|slot_status}
//	cardslot/response/modem/{card_status|slot_status}
//	cardslot/event/modem/{radio_state|eid_ready}
//	cardslot/state/cards, cardslot/state/default_euicc, cardslot/state/slot/{n}
//	cardslot/system/status   (retained, LWT)
//
// Subscriptions survive reconnects; handlers run on paho goroutines and are
// wrapped with panic recovery.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllModemEvents(), 1,
//	    func(topic string, payload []byte) error {
//	        return bridge.HandleEvent(topic, payload)
//	    })
package mqtt
