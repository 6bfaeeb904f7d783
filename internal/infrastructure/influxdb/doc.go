// Package influxdb writes slot telemetry to InfluxDB v2.
//
// Each reconciled change produces one card_slots point per physical slot
// (tags slot, euicc, removable, reason; fields card_id, state,
// active_ports, present) and one default_euicc point. Writes are
// non-blocking and batched; asynchronous failures reach the SetOnError
// callback.
//
// Telemetry is optional: Connect returns ErrDisabled when the influxdb
// section is not enabled and the daemon runs without it.
package influxdb
