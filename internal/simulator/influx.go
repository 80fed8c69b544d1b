package simulator

import (
	"log"
	"strconv"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/Hashiru97/pivot-mqtt-wordpress-dashboard/internal/model"
)

// Mirror optionally copies every published snapshot into InfluxDB so test
// runs can be inspected after the fact. A nil *Mirror records nothing.
type Mirror struct {
	farm   string
	device string
	client influxdb2.Client
	api    api.WriteAPI

	mu      sync.RWMutex
	lastErr time.Time
}

// NewMirror returns nil when url is empty (mirroring disabled).
func NewMirror(url, token, org, bucket, farm, device string) *Mirror {
	if url == "" {
		return nil
	}
	client := influxdb2.NewClient(url, token)
	m := &Mirror{
		farm:    farm,
		device:  device,
		client:  client,
		api:     client.WriteAPI(org, bucket),
		lastErr: time.Now().Add(-24 * time.Hour),
	}
	go func() {
		for err := range m.api.Errors() {
			if err != nil {
				m.mu.Lock()
				m.lastErr = time.Now()
				m.mu.Unlock()
				log.Printf("influx mirror: write error: %v", err)
			}
		}
	}()
	return m
}

// Record writes one device point and one point per segment, asynchronously.
func (m *Mirror) Record(snap model.Snapshot) {
	if m == nil {
		return
	}
	ts := snap.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	m.api.WritePoint(influxdb2.NewPoint("pivot_device",
		map[string]string{"farm": m.farm, "device": m.device},
		map[string]interface{}{"mode": string(snap.Mode), "seq": int64(snap.Seq)},
		ts))
	for _, seg := range snap.Segments {
		m.api.WritePoint(influxdb2.NewPoint("pivot_segment",
			map[string]string{"farm": m.farm, "device": m.device, "segment": strconv.Itoa(seg.Index)},
			map[string]interface{}{"state": string(seg.State), "speed": seg.Speed},
			ts))
	}
}

// LastErrorAge returns how long ago the last write error happened; a large
// value when the mirror is disabled or healthy.
func (m *Mirror) LastErrorAge() time.Duration {
	if m == nil {
		return 99999 * time.Hour
	}
	m.mu.RLock()
	t := m.lastErr
	m.mu.RUnlock()
	return time.Since(t)
}

func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.api.Flush()
	m.client.Close()
}
