package influx

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"

	"influxq/internal/logger"
	"influxq/internal/metrics"
	"influxq/internal/models"
)

// Query errors
var (
	ErrBackend = errors.New("backend query failed")
	ErrTimeout = errors.New("query timed out")
)

// Querier runs a query and returns one Record per result series
type Querier interface {
	Query(ctx context.Context, query string) ([]models.Record, error)
}

// Config holds the backend connection settings
type Config struct {
	Host     string
	Port     int
	UseSSL   bool
	Database string
	Username string
	Password string
	Timeout  time.Duration

	// Skip certificate verification when UseSSL is set
	InsecureSkipVerify bool
}

// Addr returns the backend base URL
func (c Config) Addr() string {
	scheme := "http"
	if c.UseSSL {
		scheme = "https"
	}
	u := url.URL{Scheme: scheme, Host: c.Host + ":" + strconv.Itoa(c.Port)}
	return u.String()
}

// Client is a Querier over the InfluxDB 1.x HTTP API
type Client struct {
	conn     client.Client
	database string
	addr     string
}

// NewClient creates a backend client. No request is made until Query.
func NewClient(cfg Config) (*Client, error) {
	conn, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:               cfg.Addr(),
		Username:           cfg.Username,
		Password:           cfg.Password,
		UserAgent:          "influxq",
		Timeout:            cfg.Timeout,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("create influxdb client: %w", err)
	}

	return &Client{
		conn:     conn,
		database: cfg.Database,
		addr:     cfg.Addr(),
	}, nil
}

type queryResult struct {
	resp *client.Response
	err  error
}

// Query runs query against the configured database. When ctx ends first the
// in-flight request is abandoned and ErrTimeout (deadline) or the context
// error is returned.
func (c *Client) Query(ctx context.Context, query string) ([]models.Record, error) {
	log := logger.WithComponent("influx")
	start := time.Now()

	done := make(chan queryResult, 1)
	go func() {
		resp, err := c.conn.Query(client.NewQuery(query, c.database, ""))
		done <- queryResult{resp: resp, err: err}
	}()

	var res queryResult
	select {
	case <-ctx.Done():
		metrics.QueryTotal.WithLabelValues("timeout").Inc()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	case res = <-done:
	}

	duration := time.Since(start)
	metrics.QueryDuration.Observe(duration.Seconds())

	if res.err == nil && res.resp != nil {
		res.err = res.resp.Error()
	}
	if res.err != nil {
		metrics.QueryTotal.WithLabelValues("failed").Inc()
		log.Debug().
			Err(res.err).
			Str("addr", c.addr).
			Dur("duration", duration).
			Msg("query failed")
		return nil, fmt.Errorf("%w: %v", ErrBackend, res.err)
	}

	records := FromResponse(res.resp)
	metrics.QueryTotal.WithLabelValues("success").Inc()

	log.Debug().
		Int("records", len(records)).
		Dur("duration", duration).
		Msg("query executed")

	return records, nil
}

// Close releases idle connections
func (c *Client) Close() error {
	return c.conn.Close()
}
