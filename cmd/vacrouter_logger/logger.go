// Command vacrouter_logger records the controller status stream in InfluxDB.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"
	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/influxdata/influxdb-client-go/api/write"
)

func main() {
	server := os.Getenv("INFLUX_SERVER")
	if server == "" {
		server = "http://localhost:9999"
	}
	client := influxdb2.NewClient(server, os.Getenv("INFLUX_TOKEN"))
	defer client.Close()
	writeApi := client.WriteApi("shop", "vacrouter.raw")
	defer writeApi.Close()
	go func() {
		for err := range writeApi.Errors() {
			log.Printf("write error: %v", err)
		}
	}()
	url := os.Getenv("VACROUTER_ADDRESS")
	if url == "" {
		url = "ws://localhost:8502/api/ws"
	}
	for {
		if err := logData(writeApi, url); err != nil {
			log.Print(err)
		}
		time.Sleep(1 * time.Second)
	}
}

// flattenStatus turns nested JSON into dotted field names.
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
		if prefix != "" {
			fields[prefix[1:]] = status
		}
	}
}

// tagFields are low-cardinality status fields that become point tags so
// the series can be grouped by outlet, homing stage and command source.
var tagFields = []string{"Outlet", "Stage", "Source"}

// statusPoints turns one status update into points. Every update gives a
// "vacrouter.status" point; a change of outlet since prev also gives a
// "vacrouter.move" point.
func statusPoints(status map[string]interface{}, prev string, ts time.Time) ([]*write.Point, string) {
	fields := make(map[string]interface{})
	flattenStatus(fields, status, "")
	tags := make(map[string]string)
	for _, k := range tagFields {
		if v, ok := fields[k]; ok {
			tags[k] = fmt.Sprint(v)
			delete(fields, k)
		}
	}
	points := []*write.Point{influxdb2.NewPoint("vacrouter.status", tags, fields, ts)}
	outlet := tags["Outlet"]
	if prev != "" && outlet != prev {
		points = append(points, influxdb2.NewPoint("vacrouter.move",
			map[string]string{"From": prev, "To": outlet, "Source": tags["Source"]},
			map[string]interface{}{"Position": fields["Position"]},
			ts,
		))
	}
	return points, outlet
}

func logData(writeApi api.WriteApi, url string) error {
	defer writeApi.Flush()
	var dialer websocket.Dialer
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	var outlet string
	for {
		var status map[string]interface{}
		if err := conn.ReadJSON(&status); err != nil {
			return err
		}
		var points []*write.Point
		points, outlet = statusPoints(status, outlet, time.Now())
		for _, p := range points {
			writeApi.WritePoint(p)
		}
	}
}
