package directory

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hashicorp/consul/api"

	"influxq/internal/logger"
	"influxq/internal/middleware"
)

// ConsulConfig holds the Consul agent settings
type ConsulConfig struct {
	// Address of the agent, host:port; empty uses CONSUL_HTTP_ADDR or the
	// local agent
	Address string
	Token   string

	// Datacenters to walk; empty walks every datacenter in the catalog
	Datacenters []string
}

// ConsulDirectory lists catalog nodes across datacenters
type ConsulDirectory struct {
	client      *api.Client
	datacenters []string
}

// NewConsulDirectory creates a directory over the Consul catalog
func NewConsulDirectory(cfg ConsulConfig) (*ConsulDirectory, error) {
	apiCfg := api.DefaultConfig()
	if cfg.Address != "" {
		apiCfg.Address = cfg.Address
	}
	if cfg.Token != "" {
		apiCfg.Token = cfg.Token
	}
	apiCfg.HttpClient = &http.Client{
		Transport: middleware.Chain(nil,
			middleware.Recovery("consul"),
			middleware.Logging("consul"),
		),
	}

	client, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("create consul client: %w", err)
	}

	return &ConsulDirectory{client: client, datacenters: cfg.Datacenters}, nil
}

// ListHosts returns node names from every datacenter
func (d *ConsulDirectory) ListHosts(ctx context.Context) ([]string, error) {
	catalog := d.client.Catalog()

	dcs := d.datacenters
	if len(dcs) == 0 {
		var err error
		if dcs, err = catalog.Datacenters(); err != nil {
			return nil, fmt.Errorf("%w: list datacenters: %v", ErrUnavailable, err)
		}
	}

	var hosts []string
	for _, dc := range dcs {
		q := &api.QueryOptions{Datacenter: dc}
		nodes, _, err := catalog.Nodes(q.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("%w: list nodes in %s: %v", ErrUnavailable, dc, err)
		}
		for _, n := range nodes {
			if n != nil {
				hosts = append(hosts, n.Node)
			}
		}
	}

	log := logger.WithComponent("directory")
	log.Debug().
		Str("directory", "consul").
		Strs("datacenters", dcs).
		Int("nodes", len(hosts)).
		Msg("nodes listed")

	return hosts, nil
}
