package main

import (
	"encoding/json"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/sirupsen/logrus"
	"github.com/w1xm/carryout_interface/config"
	"github.com/w1xm/carryout_interface/rotator"
)

// influxSink records every status snapshot as a point.
type influxSink struct {
	client   influxdb2.Client
	writeApi api.WriteApi
	log      logrus.FieldLogger
}

func newInfluxSink(cfg config.InfluxConfig, log logrus.FieldLogger) *influxSink {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	// Non-blocking; errors arrive on a channel.
	writeApi := client.WriteApi(cfg.Org, cfg.Bucket)
	go func() {
		for err := range writeApi.Errors() {
			log.Printf("influx write error: %v", err)
		}
	}()
	return &influxSink{client: client, writeApi: writeApi, log: log}
}

func (s *influxSink) statusCallback(status rotator.Status) {
	fields, err := statusFields(status)
	if err != nil {
		s.log.Printf("flattening status: %v", err)
		return
	}
	s.writeApi.WritePoint(influxdb2.NewPoint("carryout.status", nil, fields, time.Now()))
}

func (s *influxSink) Close() {
	s.writeApi.Flush()
	s.client.Close()
}

func statusFields(status rotator.Status) (map[string]interface{}, error) {
	data, err := json.Marshal(status)
	if err != nil {
		return nil, err
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	fields := make(map[string]interface{})
	flattenStatus(fields, v, "")
	return fields, nil
}

func flattenStatus(fields map[string]interface{}, status interface{}, prefix string) {
	switch status := status.(type) {
	case map[string]interface{}:
		for k, v := range status {
			flattenStatus(fields, v, prefix+"."+k)
		}
	case []interface{}:
		for k, v := range status {
			flattenStatus(fields, v, fmt.Sprintf("%s.%d", prefix, k))
		}
	default:
		if prefix == "" {
			return
		}
		fields[prefix[1:]] = status
	}
}
