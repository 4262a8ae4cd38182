package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// Mode selects how the query is run
type Mode string

const (
	// ModePerHost runs the query once per directory host
	ModePerHost Mode = "per-host"
	// ModeSingle runs the query once and reads the host from each record
	ModeSingle Mode = "single"
)

// Directory kinds
const (
	DirectorySensu  = "sensu"
	DirectoryConsul = "consul"
	DirectoryNone   = "none"
)

// Config holds runtime configuration for one probe run
type Config struct {
	Check     CheckConfig
	InfluxDB  InfluxDBConfig
	Run       RunConfig
	Directory DirectoryConfig
	Socket    string
	Kafka     KafkaConfig
	NATS      NATSConfig
	Metrics   MetricsConfig
	LogLevel  string
}

// CheckConfig describes what is queried and how results are reported
type CheckConfig struct {
	Query      string
	JSONPath   string
	CheckName  string
	Message    string
	NamePrefix string
	Warning    string
	Critical   string
	Handlers   []string
}

type InfluxDBConfig struct {
	Host               string
	Port               int
	Database           string
	Username           string
	Password           string
	UseSSL             bool
	InsecureSkipVerify bool
}

type RunConfig struct {
	Mode Mode

	// Tag or field holding the host name; a dotted value is an explicit
	// record path
	HostField string

	FilterClients  bool
	RequireClients bool
	DryRun         bool
	Timeout        time.Duration
	Concurrency    int
}

type DirectoryConfig struct {
	Kind   string
	Sensu  SensuConfig
	Consul ConsulConfig
}

type SensuConfig struct {
	Host     string
	Port     int
	User     string
	Password string
}

type ConsulConfig struct {
	Address     string
	Token       string
	Datacenters []string
}

// KafkaConfig enables the Kafka event mirror when Brokers is set
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	Producer ProducerConfig
}

type ProducerConfig struct {
	BatchSize    int
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	RequiredAcks int
	Compression  string
}

// NATSConfig enables the NATS event mirror when URL is set
type NATSConfig struct {
	URL     string
	Subject string
}

// MetricsConfig enables pushing run metrics when PushgatewayURL is set
type MetricsConfig struct {
	PushgatewayURL string
	Job            string
}

// Configuration errors
var (
	ErrMissing = errors.New("required option missing")
	ErrInvalid = errors.New("invalid value")
)

// Error is a configuration problem tied to one option
type Error struct {
	Option string
	Err    error
}

func (e *Error) Error() string {
	if e.Option == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("--%s: %v", e.Option, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func invalid(option string, format string, args ...any) *Error {
	return &Error{Option: option, Err: fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...)}
}

// Default returns the built-in defaults
func Default() *Config {
	return &Config{
		Check: CheckConfig{
			CheckName:  "%{name}-%{tags.instance}-%{tags.type}",
			NamePrefix: "influxdb-q-",
		},
		InfluxDB: InfluxDBConfig{
			Host:     "localhost",
			Port:     8086,
			Database: "collectd",
		},
		Run: RunConfig{
			Mode:        ModePerHost,
			HostField:   "host",
			Timeout:     10 * time.Second,
			Concurrency: 1,
		},
		Directory: DirectoryConfig{
			Kind: DirectorySensu,
			Sensu: SensuConfig{
				Host: "localhost",
				Port: 4567,
			},
		},
		Socket: "127.0.0.1:3030",
		Kafka: KafkaConfig{
			Topic: "influxq-events",
			Producer: ProducerConfig{
				BatchSize:    100,
				BatchTimeout: 50 * time.Millisecond,
				WriteTimeout: 5 * time.Second,
				RequiredAcks: 1,
				Compression:  "snappy",
			},
		},
		NATS: NATSConfig{
			Subject: "influxq.events",
		},
		Metrics: MetricsConfig{
			Job: "influxq",
		},
		LogLevel: "warn",
	}
}

// Load builds the configuration from defaults, the environment (optionally
// read from a .env file) and command line args, in increasing precedence.
func Load(args []string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}

	fs := NewFlagSet(cfg)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, err
		}
		return nil, &Error{Err: err}
	}
	if fs.NArg() > 0 {
		return nil, &Error{Err: fmt.Errorf("%w: unexpected argument %q", ErrInvalid, fs.Arg(0))}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv overlays environment variables on the defaults
func FromEnv() (*Config, error) {
	cfg := Default()
	var err error

	c := &cfg.Check
	c.Query = getEnv("INFLUXQ_QUERY", c.Query)
	c.JSONPath = getEnv("INFLUXQ_JSON_PATH", c.JSONPath)
	c.CheckName = getEnv("INFLUXQ_CHECK_NAME", c.CheckName)
	c.Message = getEnv("INFLUXQ_MSG", c.Message)
	c.NamePrefix = getEnv("INFLUXQ_NAME_PREFIX", c.NamePrefix)
	c.Warning = getEnv("INFLUXQ_WARN", c.Warning)
	c.Critical = getEnv("INFLUXQ_CRIT", c.Critical)
	if v := os.Getenv("INFLUXQ_HANDLERS"); v != "" {
		c.Handlers = splitCSV(v)
	}

	db := &cfg.InfluxDB
	db.Host = getEnv("INFLUXDB_HOST", db.Host)
	if db.Port, err = getEnvInt("INFLUXDB_PORT", db.Port); err != nil {
		return nil, err
	}
	db.Database = getEnv("INFLUXDB_DATABASE", db.Database)
	db.Username = getEnv("INFLUXDB_USERNAME", db.Username)
	db.Password = getEnv("INFLUXDB_PASSWORD", db.Password)
	db.UseSSL = getEnvBool("INFLUXDB_USE_SSL", db.UseSSL)
	db.InsecureSkipVerify = getEnvBool("INFLUXDB_INSECURE_SKIP_VERIFY", db.InsecureSkipVerify)

	run := &cfg.Run
	run.Mode = Mode(getEnv("INFLUXQ_MODE", string(run.Mode)))
	run.HostField = getEnv("INFLUXQ_HOST_FIELD", run.HostField)
	run.FilterClients = getEnvBool("INFLUXQ_FILTER_CLIENTS", run.FilterClients)
	run.RequireClients = getEnvBool("INFLUXQ_REQUIRE_CLIENTS", run.RequireClients)
	run.DryRun = getEnvBool("INFLUXQ_DRYRUN", run.DryRun)
	if run.Timeout, err = getEnvDuration("INFLUXQ_TIMEOUT", run.Timeout); err != nil {
		return nil, err
	}
	if run.Concurrency, err = getEnvInt("INFLUXQ_CONCURRENCY", run.Concurrency); err != nil {
		return nil, err
	}

	dir := &cfg.Directory
	dir.Kind = getEnv("INFLUXQ_DIRECTORY", dir.Kind)
	dir.Sensu.Host = getEnv("SENSU_API_HOST", dir.Sensu.Host)
	if dir.Sensu.Port, err = getEnvInt("SENSU_API_PORT", dir.Sensu.Port); err != nil {
		return nil, err
	}
	dir.Sensu.User = getEnv("SENSU_API_USER", dir.Sensu.User)
	dir.Sensu.Password = getEnv("SENSU_API_PASSWORD", dir.Sensu.Password)
	dir.Consul.Address = getEnv("CONSUL_HTTP_ADDR", dir.Consul.Address)
	dir.Consul.Token = getEnv("CONSUL_HTTP_TOKEN", dir.Consul.Token)
	if v := os.Getenv("CONSUL_DATACENTERS"); v != "" {
		dir.Consul.Datacenters = splitCSV(v)
	}

	cfg.Socket = getEnv("INFLUXQ_SOCKET", cfg.Socket)

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitCSV(v)
	}
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)
	cfg.Kafka.Producer.Compression = getEnv("KAFKA_COMPRESSION", cfg.Kafka.Producer.Compression)

	cfg.NATS.URL = getEnv("NATS_URL", cfg.NATS.URL)
	cfg.NATS.Subject = getEnv("NATS_SUBJECT", cfg.NATS.Subject)

	cfg.Metrics.PushgatewayURL = getEnv("PUSHGATEWAY_URL", cfg.Metrics.PushgatewayURL)
	cfg.Metrics.Job = getEnv("PUSHGATEWAY_JOB", cfg.Metrics.Job)

	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	return cfg, nil
}

// NewFlagSet binds every option to cfg; current values become the flag
// defaults.
func NewFlagSet(cfg *Config) *pflag.FlagSet {
	fs := pflag.NewFlagSet("influxq", pflag.ContinueOnError)
	fs.SortFlags = false

	c := &cfg.Check
	fs.StringVarP(&c.Query, "query", "q", c.Query, "Query to execute, e.g. SELECT value FROM load WHERE time > now() - 5m")
	fs.StringVarP(&c.JSONPath, "json-path", "j", c.JSONPath, "JSONPath selecting the value to check in each record")
	fs.StringVar(&c.CheckName, "check-name", c.CheckName, "Check name, supports %{path} interpolation; the default expects InfluxDB series records, set it for flat records")
	fs.StringVarP(&c.Message, "msg", "m", c.Message, "Message for every event, supports %{path} interpolation")
	fs.StringVar(&c.NamePrefix, "name-prefix", c.NamePrefix, "Prefix added to every check name")
	fs.StringVarP(&c.Warning, "warn", "w", c.Warning, "Warning expression, e.g. value >= 5")
	fs.StringVarP(&c.Critical, "crit", "c", c.Critical, "Critical expression, e.g. value >= 10")
	fs.StringSliceVar(&c.Handlers, "handlers", c.Handlers, "Event handlers (repeatable or comma separated)")

	db := &cfg.InfluxDB
	fs.StringVar(&db.Database, "database", db.Database, "InfluxDB database")
	fs.StringVar(&db.Host, "host", db.Host, "InfluxDB host")
	fs.IntVar(&db.Port, "port", db.Port, "InfluxDB port")
	fs.BoolVar(&db.UseSSL, "use-ssl", db.UseSSL, "Connect to InfluxDB over HTTPS")
	fs.BoolVar(&db.InsecureSkipVerify, "insecure-skip-verify", db.InsecureSkipVerify, "Skip TLS certificate verification")
	fs.StringVar(&db.Username, "username", db.Username, "InfluxDB user")
	fs.StringVar(&db.Password, "password", db.Password, "InfluxDB password")

	run := &cfg.Run
	fs.StringVar((*string)(&run.Mode), "mode", string(run.Mode), "Run mode: per-host or single")
	fs.StringVar(&run.HostField, "host-field", run.HostField, "Tag holding the host name, or a dotted record path")
	fs.BoolVar(&run.FilterClients, "filter-clients", run.FilterClients, "Single mode: skip records whose host is not a known client")
	fs.BoolVar(&run.RequireClients, "require-clients", run.RequireClients, "Report UNKNOWN when the client directory is unavailable")
	fs.BoolVar(&run.DryRun, "dryrun", run.DryRun, "Print events to stdout instead of sending them")
	fs.DurationVar(&run.Timeout, "timeout", run.Timeout, "Timeout for the whole query phase")
	fs.IntVar(&run.Concurrency, "concurrency", run.Concurrency, "Hosts queried in parallel in per-host mode")

	dir := &cfg.Directory
	fs.StringVar(&dir.Kind, "directory", dir.Kind, "Client directory: sensu, consul or none")
	fs.StringVar(&dir.Sensu.Host, "sensu-api-host", dir.Sensu.Host, "Sensu API host")
	fs.IntVar(&dir.Sensu.Port, "sensu-api-port", dir.Sensu.Port, "Sensu API port")
	fs.StringVar(&dir.Sensu.User, "sensu-api-user", dir.Sensu.User, "Sensu API user")
	fs.StringVar(&dir.Sensu.Password, "sensu-api-password", dir.Sensu.Password, "Sensu API password")
	fs.StringVar(&dir.Consul.Address, "consul-addr", dir.Consul.Address, "Consul agent address")
	fs.StringSliceVar(&dir.Consul.Datacenters, "consul-datacenter", dir.Consul.Datacenters, "Consul datacenters to list (default all)")

	fs.StringVar(&cfg.Socket, "socket", cfg.Socket, "Local agent client socket (UDP host:port)")

	fs.StringSliceVar(&cfg.Kafka.Brokers, "kafka-brokers", cfg.Kafka.Brokers, "Mirror events to these Kafka brokers")
	fs.StringVar(&cfg.Kafka.Topic, "kafka-topic", cfg.Kafka.Topic, "Kafka topic for mirrored events")
	fs.StringVar(&cfg.NATS.URL, "nats-url", cfg.NATS.URL, "Mirror events to this NATS server")
	fs.StringVar(&cfg.NATS.Subject, "nats-subject", cfg.NATS.Subject, "NATS subject for mirrored events")

	fs.StringVar(&cfg.Metrics.PushgatewayURL, "pushgateway-url", cfg.Metrics.PushgatewayURL, "Push run metrics to this Pushgateway")
	fs.StringVar(&cfg.Metrics.Job, "pushgateway-job", cfg.Metrics.Job, "Pushgateway job name")

	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")

	return fs
}

// Validate checks required options and value ranges
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Check.Query) == "" {
		return &Error{Option: "query", Err: ErrMissing}
	}
	if strings.TrimSpace(c.Check.JSONPath) == "" {
		return &Error{Option: "json-path", Err: ErrMissing}
	}
	if c.Check.CheckName == "" {
		return &Error{Option: "check-name", Err: ErrMissing}
	}

	switch c.Run.Mode {
	case ModePerHost, ModeSingle:
	default:
		return invalid("mode", "%q (want per-host or single)", c.Run.Mode)
	}

	if c.Run.HostField == "" {
		return &Error{Option: "host-field", Err: ErrMissing}
	}
	if c.Run.Timeout <= 0 {
		return invalid("timeout", "%s (must be positive)", c.Run.Timeout)
	}
	if c.Run.Concurrency < 1 {
		return invalid("concurrency", "%d (must be at least 1)", c.Run.Concurrency)
	}
	if c.InfluxDB.Port < 1 || c.InfluxDB.Port > 65535 {
		return invalid("port", "%d", c.InfluxDB.Port)
	}

	switch c.Directory.Kind {
	case DirectorySensu, DirectoryConsul, DirectoryNone:
	default:
		return invalid("directory", "%q (want sensu, consul or none)", c.Directory.Kind)
	}
	if c.Run.Mode == ModePerHost && c.Directory.Kind == DirectoryNone {
		return invalid("directory", "per-host mode needs a client directory")
	}

	if c.Socket == "" {
		return &Error{Option: "socket", Err: ErrMissing}
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return &Error{Option: "kafka-topic", Err: ErrMissing}
	}
	if c.NATS.URL != "" && c.NATS.Subject == "" {
		return &Error{Option: "nats-subject", Err: ErrMissing}
	}

	return nil
}

// UsesDirectory reports whether the run needs the client directory
func (c *Config) UsesDirectory() bool {
	return c.Run.Mode == ModePerHost || c.Run.FilterClients
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return parsed
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, &Error{Err: fmt.Errorf("%w: %s=%q", ErrInvalid, key, value)}
	}
	return parsed, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, &Error{Err: fmt.Errorf("%w: %s=%q", ErrInvalid, key, value)}
	}
	return parsed, nil
}

func splitCSV(raw string) []string {
	items := make([]string, 0)
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
