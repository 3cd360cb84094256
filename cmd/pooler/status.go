package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
)

var portFlag = &cli.IntFlag{
	Name:  "port",
	Usage: "port the target Pooler's HTTP server is listening on",
	Value: 3001,
}

// statusCommand implements `pooler status`: a small operational CLI that
// polls a running Pooler's /health and /status/work endpoints and renders
// them as a table, in the teacher's tablewriter-based CLI reporting style.
func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "report a running Pooler's health and in-flight work",
		Flags: []cli.Flag{portFlag},
		Action: func(cctx *cli.Context) error {
			base := fmt.Sprintf("http://127.0.0.1:%d", cctx.Int(portFlag.Name))

			health, err := fetchJSON(base + "/health")
			if err != nil {
				return fmt.Errorf("fetch health: %w", err)
			}
			work, err := fetchJSON(base + "/status/work")
			if err != nil {
				return fmt.Errorf("fetch status: %w", err)
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Field", "Value"})
			for _, row := range [][2]string{
				{"status", fmt.Sprint(health["status"])},
				{"cursor", fmt.Sprint(health["cursor"])},
				{"consecutiveErrorCount", fmt.Sprint(health["consecutiveErrorCount"])},
				{"uptimeMs", fmt.Sprint(health["uptimeMs"])},
				{"pendingBlocks", fmt.Sprint(work["pendingBlocks"])},
				{"activeBlocks", fmt.Sprint(work["activeBlocks"])},
				{"minerRunning", fmt.Sprint(work["minerRunning"])},
			} {
				table.Append([]string{row[0], row[1]})
			}
			table.Render()
			return nil
		},
	}
}

func fetchJSON(url string) (map[string]any, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
