package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePoint queues a point stamped with the current time.
//
//	client.WritePoint("wkpf_property",
//	    map[string]string{"node": "3", "object": "1", "property": "0"},
//	    map[string]any{"value": int64(215)})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime queues a point with an explicit timestamp, such as
// the moment a property update was received. Points written after Close
// are dropped.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writes.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
