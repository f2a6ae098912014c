// Package influxdb writes relay statistics to InfluxDB v2.
//
// A Client is bound to one node and role at Connect time and writes
// relay_stats points through the library's batched, non-blocking write API.
// A Reporter samples the relay's counters on a fixed interval.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, influxdb.Tags{Node: node, Role: "master"}, onReject)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	go influxdb.NewReporter(client, 30*time.Second, statsFn).Run(ctx)
//
// Batch failures arrive asynchronously; they are counted by WriteErrors and
// handed to the callback given to Connect, wrapped in ErrWriteFailed.
package influxdb
