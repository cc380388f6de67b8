package cli

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/randomizedcoder/go-hwdiag/internal/metrics"
)

const metricPrefix = "hwdiag_"

func (a *app) statusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the metrics of a running hwdiag instance",
		Description: `Scrapes /metrics from a running stress, benchmark or overwatch session
and prints its hwdiag_* samples.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "host:port of the status server (default: web.addr)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "scrape timeout",
				Value: 5 * time.Second,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			addr := cmd.String("addr")
			if addr == "" {
				addr = a.cfg.Web.Addr
			}
			url := addr
			if !strings.Contains(url, "://") {
				url = "http://" + url
			}
			url = strings.TrimSuffix(url, "/") + "/metrics"

			if _, err := a.initLogger(cmd, true); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
			defer cancel()

			families, err := metrics.Scrape(ctx, &http.Client{}, url)
			if err != nil {
				return err
			}

			w := outWriter(cmd)
			lines := metrics.FormatFamilies(families, metricPrefix)
			if len(lines) == 0 {
				fmt.Fprintf(w, "no %s* metrics at %s\n", metricPrefix, url)
				return nil
			}
			for _, line := range lines {
				fmt.Fprintln(w, line)
			}
			return nil
		},
	}
}
