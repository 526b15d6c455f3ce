// Package influxdb writes property history to InfluxDB v2.
//
// It wraps influxdb-client-go's non-blocking write API. The bridge's
// history recorder is the only writer: every accepted property update
// becomes one point in the configured bucket.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.SetOnError(func(err error) { logger.Warn("history write failed", "error", err) })
//
// Points are batched per batch_size and flush_interval; Close flushes.
package influxdb
