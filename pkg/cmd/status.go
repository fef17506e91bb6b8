package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/logrusorgru/aurora"
	"github.com/urfave/cli/v2"

	"github.com/dfsbench/dfsbench/pkg/api"
	"github.com/dfsbench/dfsbench/pkg/logging"
)

var StatusCommand = cli.Command{
	Name:   "status",
	Usage:  "show the phase, experiment and workers of a coordinator",
	Action: statusCommand,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "endpoint",
			Usage: "coordinator address (overrides .env.toml)",
		},
	},
}

func statusCommand(c *cli.Context) error {
	ctx, cancel := context.WithTimeout(ProcessContext(), 10*time.Second)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	endpoint := cfg.Worker.Endpoint
	if c.IsSet("endpoint") {
		endpoint = c.String("endpoint")
	}

	s, err := fetchStatus(ctx, endpoint)
	if err != nil {
		return err
	}
	printStatus(s)
	return nil
}

func fetchStatus(ctx context.Context, endpoint string) (*api.Status, error) {
	base := endpoint
	switch {
	case strings.HasPrefix(base, "ws://"):
		base = "http://" + strings.TrimPrefix(base, "ws://")
	case strings.HasPrefix(base, "wss://"):
		base = "https://" + strings.TrimPrefix(base, "wss://")
	case !strings.Contains(base, "://"):
		base = "http://" + base
	}
	base = strings.TrimSuffix(strings.TrimSuffix(base, "/ws"), "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach coordinator at %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coordinator returned %s", resp.Status)
	}

	var s api.Status
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return &s, nil
}

func printStatus(s *api.Status) {
	au := aurora.NewAurora(logging.IsTerminal())

	mode := "interactive"
	if s.Auto {
		mode = fmt.Sprintf("auto, %d connections", s.Connections)
	}
	fmt.Printf("%s %s (%s)\n", au.Bold("phase:"), au.Cyan(s.Phase), mode)

	if e := s.Experiment; e != nil {
		fmt.Printf("%s %s on %s\n", au.Bold("experiment:"), e.Descriptor.Name, e.Descriptor.Network)
		fmt.Printf("%s %d/%d, leader %s, uploaded %t, downloaded %d/%d\n",
			au.Bold("round:"), e.Round, e.TotalRounds, e.Leader, e.Uploaded, e.Finished, e.Downloaders)
	}

	fmt.Println(au.Bold("workers:"))
	for _, p := range s.Participants {
		state := au.Red("disconnected")
		if p.Connected {
			state = au.Green("connected")
		}
		line := fmt.Sprintf("  %s %s participating=%t ready=%t", p.Identity, state, p.Participating, p.Ready)
		if p.LastEvent != "" {
			line += fmt.Sprintf(" last=%s/%s", p.LastEvent, p.LastStatus)
			if p.LastRound != nil {
				line += fmt.Sprintf("@%d", *p.LastRound)
			}
		}
		fmt.Println(line)
	}
}
