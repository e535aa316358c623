// Package persistence holds the InfluxDB backends: a Reading store for
// deployments that keep the time series in Influx, and an audit mirror that
// copies every LogEntry into a measurement for dashboards.
package persistence

import (
	"context"
	"fmt"
	"strings"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
)

// Configurazione Influx
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

func (c InfluxConfig) Validate() error {
	if c.URL == "" || c.Token == "" || c.Org == "" || c.Bucket == "" {
		return fmt.Errorf("influx config incomplete")
	}
	return nil
}

func NewInfluxClient(cfg InfluxConfig) (influxdb2.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return influxdb2.NewClient(cfg.URL, cfg.Token), nil
}

// PingInflux reports whether the server answers.
func PingInflux(ctx context.Context, c influxdb2.Client) error {
	ok, err := c.Ping(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("influx ping failed")
	}
	return nil
}

func sanitizeMeasurement(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '_', r == ':', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
