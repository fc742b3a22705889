// Command exporter publishes docker container metadata as a Prometheus
// gauge so the scheduler dashboards can join service names, images and
// container states onto the metrics scraped from the server itself.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var containerMeta = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "container_meta_info",
		Help: "Container metadata info",
	},
	[]string{"id", "name", "image", "com_docker_compose_service", "state", "full_id"},
)

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// collect refreshes the gauge from the docker daemon. When project is
// non-empty only containers of that compose project are exported.
func collect(ctx context.Context, cli *client.Client, project string) {
	containers, err := cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		slog.Error("container list failed", slog.Any("error", err))
		return
	}

	containerMeta.Reset()
	for _, c := range containers {
		if project != "" && c.Labels["com.docker.compose.project"] != project {
			continue
		}

		fullID := c.ID
		shortID := fullID
		if len(fullID) > 12 {
			shortID = fullID[:12]
		}

		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}

		service := c.Labels["com.docker.compose.service"]
		if service == "" {
			service = name
		}

		containerMeta.WithLabelValues(shortID, name, c.Image, service, c.State, fullID).Set(1)
	}
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	prometheus.MustRegister(containerMeta)

	addr := getenv("EXPORTER_ADDR", ":8000")
	project := os.Getenv("COMPOSE_PROJECT")
	interval, err := time.ParseDuration(getenv("SCRAPE_INTERVAL", "15s"))
	if err != nil {
		slog.Error("bad SCRAPE_INTERVAL", slog.Any("error", err))
		os.Exit(1)
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		slog.Error("docker client init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer cli.Close()

	ctx := context.Background()
	go func() {
		for {
			collect(ctx, cli, project)
			time.Sleep(interval)
		}
	}()

	http.Handle("/metrics", promhttp.Handler())
	slog.Info("docker meta exporter starting", slog.String("addr", addr), slog.String("project", project))
	if err := http.ListenAndServe(addr, nil); err != nil {
		slog.Error("exporter server error", slog.Any("error", err))
		os.Exit(1)
	}
}
