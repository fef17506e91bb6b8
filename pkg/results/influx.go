package results

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"

	"github.com/dfsbench/dfsbench/pkg/api"
	"github.com/dfsbench/dfsbench/pkg/config"
)

const measurement = "retrieval"

// Influx writes one point per retrieved identifier to an InfluxDB database.
type Influx struct {
	db string
	cl client.Client
}

var _ Sink = (*Influx)(nil)

func NewInflux(cfg config.InfluxConfig) (*Influx, error) {
	cl, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		return nil, err
	}
	return &Influx{db: cfg.Database, cl: cl}, nil
}

func (i *Influx) WriteRoundResult(_ context.Context, worker api.Identity, rec Record) error {
	bp, err := client.NewBatchPoints(client.BatchPointsConfig{
		Database:  i.db,
		Precision: "ms",
	})
	if err != nil {
		return err
	}

	tags := map[string]string{
		"experiment": rec.Experiment,
		"network":    rec.Network,
		"leader":     rec.Leader.ID,
		"worker":     worker.ID,
	}
	for _, s := range rec.Download.Results {
		ts := s.Retrieved
		if ts.IsZero() {
			ts = time.Now()
		}
		p, err := client.NewPoint(measurement, tags, map[string]interface{}{
			"round":      rec.Round,
			"id":         s.ID,
			"size":       int64(s.Size),
			"latency_ms": float64(s.Latency) / float64(time.Millisecond),
		}, ts)
		if err != nil {
			return err
		}
		bp.AddPoint(p)
	}

	if err := i.cl.Write(bp); err != nil {
		return fmt.Errorf("failed to write results to influxdb: %w", err)
	}
	return nil
}

// Summary aggregates the retrievals of one experiment.
type Summary struct {
	Experiment string
	Count      int64
	MeanMillis float64
}

// Summarize returns the mean retrieval latency of every experiment run on
// network.
func (i *Influx) Summarize(network string) ([]Summary, error) {
	cmd := fmt.Sprintf(`SELECT COUNT("latency_ms"), MEAN("latency_ms") FROM %q WHERE "network" = '%s' GROUP BY "experiment"`, measurement, network)

	response, err := i.cl.Query(client.Query{Command: cmd, Database: i.db})
	if err != nil {
		return nil, err
	}
	if response.Error() != nil {
		return nil, response.Error()
	}
	if len(response.Results) == 0 {
		return nil, nil
	}

	var out []Summary
	for _, series := range response.Results[0].Series {
		if len(series.Values) == 0 || len(series.Values[0]) < 3 {
			continue
		}
		row := series.Values[0]
		s := Summary{Experiment: series.Tags["experiment"]}
		if n, ok := row[1].(json.Number); ok {
			s.Count, _ = n.Int64()
		}
		switch v := row[2].(type) {
		case json.Number:
			s.MeanMillis, _ = v.Float64()
		case float64:
			s.MeanMillis = v
		case string:
			s.MeanMillis, _ = strconv.ParseFloat(v, 64)
		}
		out = append(out, s)
	}
	return out, nil
}

func (i *Influx) Close() error {
	return i.cl.Close()
}
