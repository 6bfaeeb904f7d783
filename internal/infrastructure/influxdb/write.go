package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementCardSlots    = "card_slots"
	MeasurementDefaultEuicc = "default_euicc"
)

// SlotSample is one slot's state at a change.
type SlotSample struct {
	SlotIndex   int
	IsEuicc     bool
	IsRemovable bool
	CardID      int
	State       string
	ActivePorts int
	Present     bool
}

// WriteSlotSamples writes one card_slots point per sample, all stamped at.
func (c *Client) WriteSlotSamples(samples []SlotSample, reason string, at time.Time) {
	if !c.IsConnected() {
		return
	}
	for _, s := range samples {
		c.writeAPI.WritePoint(slotPoint(s, reason, at))
	}
}

// WriteDefaultEuicc records the default eUICC card ID.
func (c *Client) WriteDefaultEuicc(cardID int, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementDefaultEuicc,
		nil,
		map[string]interface{}{"card_id": cardID},
		at,
	))
}

func slotPoint(s SlotSample, reason string, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementCardSlots,
		map[string]string{
			"slot":      strconv.Itoa(s.SlotIndex),
			"euicc":     strconv.FormatBool(s.IsEuicc),
			"removable": strconv.FormatBool(s.IsRemovable),
			"reason":    reason,
		},
		map[string]interface{}{
			"card_id":      s.CardID,
			"state":        s.State,
			"active_ports": s.ActivePorts,
			"present":      s.Present,
		},
		at,
	)
}
