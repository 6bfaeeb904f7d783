package influxdb

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/cardslot-core/internal/infrastructure/config"
)

// fakeWriteAPI records points instead of sending them.
type fakeWriteAPI struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
	errs    chan error
}

func newFakeWriteAPI() *fakeWriteAPI {
	return &fakeWriteAPI{errs: make(chan error, 1)}
}

func (f *fakeWriteAPI) WriteRecord(string) {}
func (f *fakeWriteAPI) WritePoint(p *write.Point) {
	f.mu.Lock()
	f.points = append(f.points, p)
	f.mu.Unlock()
}
func (f *fakeWriteAPI) Flush() {
	f.mu.Lock()
	f.flushes++
	f.mu.Unlock()
}
func (f *fakeWriteAPI) Errors() <-chan error                        { return f.errs }
func (f *fakeWriteAPI) SetWriteFailedCallback(api.WriteFailedCallback) {}

func (f *fakeWriteAPI) snapshot() []*write.Point {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*write.Point(nil), f.points...)
}

func tagMap(p *write.Point) map[string]string {
	out := make(map[string]string)
	for _, t := range p.TagList() {
		out[t.Key] = t.Value
	}
	return out
}

func fieldMap(p *write.Point) map[string]any {
	out := make(map[string]any)
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(context.Background(), config.InfluxDBConfig{Enabled: false})
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestConnect_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Connect(ctx, config.InfluxDBConfig{
		Enabled: true,
		URL:     "http://127.0.0.1:1",
		Org:     "org",
		Bucket:  "cardslot",
	})
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestWriteSlotSamples(t *testing.T) {
	fake := newFakeWriteAPI()
	c := newClient(config.InfluxDBConfig{}, fake)
	at := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	c.WriteSlotSamples([]SlotSample{
		{SlotIndex: 0, CardID: 0, State: "present_resolved", ActivePorts: 1, Present: true, IsRemovable: true},
		{SlotIndex: 1, IsEuicc: true, CardID: -2, State: "absent"},
	}, "slot_status", at)

	points := fake.snapshot()
	require.Len(t, points, 2)

	assert.Equal(t, MeasurementCardSlots, points[0].Name())
	assert.Equal(t, at, points[0].Time())
	assert.Equal(t, map[string]string{
		"slot": "0", "euicc": "false", "removable": "true", "reason": "slot_status",
	}, tagMap(points[0]))

	fields := fieldMap(points[1])
	assert.EqualValues(t, -2, fields["card_id"])
	assert.Equal(t, "absent", fields["state"])
	assert.Equal(t, false, fields["present"])
}

func TestWriteDefaultEuicc(t *testing.T) {
	fake := newFakeWriteAPI()
	c := newClient(config.InfluxDBConfig{}, fake)

	c.WriteDefaultEuicc(3, time.Now())

	points := fake.snapshot()
	require.Len(t, points, 1)
	assert.Equal(t, MeasurementDefaultEuicc, points[0].Name())
	assert.EqualValues(t, 3, fieldMap(points[0])["card_id"])
}

func TestWritesAfterCloseAreDropped(t *testing.T) {
	fake := newFakeWriteAPI()
	c := newClient(config.InfluxDBConfig{}, fake)

	require.NoError(t, c.Close())
	assert.Equal(t, 1, fake.flushes)

	c.WriteSlotSamples([]SlotSample{{}}, "x", time.Now())
	c.WriteDefaultEuicc(1, time.Now())
	c.Flush()

	assert.Empty(t, fake.snapshot())
	assert.Equal(t, 1, fake.flushes)
	assert.ErrorIs(t, c.HealthCheck(context.Background()), ErrNotConnected)
}

func TestOnErrorCallback(t *testing.T) {
	fake := newFakeWriteAPI()
	c := newClient(config.InfluxDBConfig{}, fake)

	got := make(chan error, 1)
	c.SetOnError(func(err error) { got <- err })

	fake.errs <- errors.New("bucket not found")
	select {
	case err := <-got:
		assert.EqualError(t, err, "bucket not found")
	case <-time.After(2 * time.Second):
		t.Fatal("write error not delivered")
	}
}
