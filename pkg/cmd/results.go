package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	"github.com/dfsbench/dfsbench/pkg/results"
)

var ResultsCommand = cli.Command{
	Name:      "results",
	Usage:     "summarize the retrievals recorded in InfluxDB for a network",
	ArgsUsage: "<network>",
	Action:    resultsCommand,
}

func resultsCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("missing network name")
	}
	network := c.Args().First()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Results.Influx.Addr == "" {
		return fmt.Errorf("no InfluxDB configured; set results.influxdb.addr in .env.toml")
	}

	influx, err := results.NewInflux(cfg.Results.Influx)
	if err != nil {
		return err
	}
	defer influx.Close()

	summaries, err := influx.Summarize(network)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		pterm.Info.Printfln("no results recorded for %s", network)
		return nil
	}

	data := pterm.TableData{{"experiment", "retrievals", "mean latency (ms)"}}
	for _, s := range summaries {
		data = append(data, []string{s.Experiment, fmt.Sprint(s.Count), fmt.Sprintf("%.2f", s.MeanMillis)})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
