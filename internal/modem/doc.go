// Package modem bridges the uicc engine to the modem service over MQTT.
//
// The Bridge implements uicc.Radio: status requests are published on
// cardslot/request/modem/{card_status|slot_status} carrying an opaque
// token, and the matching responses arrive on cardslot/response/modem/...
// with the token echoed back. Radio-state and EID-ready indications arrive
// on cardslot/event/modem/... and are posted to the engine as events.
//
// EIDs are carried in the eid_ready payload and cached per slot; ReadEID
// answers from that cache. The cache is cleared when the radio becomes
// unavailable.
//
// PublishChange is meant to be registered with Engine.Subscribe. It
// publishes the reconciled card infos and default eUICC as retained state
// so other services on the broker can follow slot changes.
package modem
