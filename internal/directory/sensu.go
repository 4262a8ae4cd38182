package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"influxq/internal/logger"
	"influxq/internal/middleware"
)

// SensuConfig holds the Sensu API connection settings
type SensuConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Timeout  time.Duration
}

// SensuDirectory lists clients registered with the Sensu API
type SensuDirectory struct {
	base     url.URL
	user     string
	password string
	http     *http.Client
}

type sensuClient struct {
	Name string `json:"name"`
}

// NewSensuDirectory creates a directory over GET /clients
func NewSensuDirectory(cfg SensuConfig) *SensuDirectory {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &SensuDirectory{
		base:     url.URL{Scheme: "http", Host: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))},
		user:     cfg.User,
		password: cfg.Password,
		http: &http.Client{
			Timeout: timeout,
			Transport: middleware.Chain(nil,
				middleware.Recovery("sensu"),
				middleware.Logging("sensu"),
			),
		},
	}
}

// ListHosts returns the names of all registered clients
func (d *SensuDirectory) ListHosts(ctx context.Context) ([]string, error) {
	u := d.base
	u.Path = "/clients"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if d.user != "" && d.password != "" {
		req.SetBasicAuth(d.user, d.password)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: GET /clients returned %d", ErrUnavailable, resp.StatusCode)
	}

	var clients []sensuClient
	if err := json.NewDecoder(resp.Body).Decode(&clients); err != nil {
		return nil, fmt.Errorf("%w: decode clients: %v", ErrUnavailable, err)
	}

	hosts := make([]string, 0, len(clients))
	for _, c := range clients {
		hosts = append(hosts, c.Name)
	}

	log := logger.WithComponent("directory")
	log.Debug().
		Str("directory", "sensu").
		Int("clients", len(hosts)).
		Msg("clients listed")

	return hosts, nil
}
