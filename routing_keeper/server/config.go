package server

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type ZookeeperConfig struct {
	Hosts          []string      `yaml:"hosts"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
	// MaxQps bounds requests against zookeeper, non-positive means unbounded.
	MaxQps int64 `yaml:"max_qps"`
}

type PushMonitorConfig struct {
	StatusRoot              string        `yaml:"status_root"`
	HeartbeatRoot           string        `yaml:"heartbeat_root"`
	MaxOfflineInstanceCount int           `yaml:"max_offline_instance_count"`
	MaxOfflineInstanceRatio float64       `yaml:"max_offline_instance_ratio"`
	UseSpecificErrorStatus  bool          `yaml:"use_specific_error_status"`
	InstancesToIgnore       []string      `yaml:"instances_to_ignore"`
	GracePeriod             time.Duration `yaml:"grace_period"`
	HeartbeatTimeout        time.Duration `yaml:"heartbeat_timeout"`
	ClassifierCacheTtl      time.Duration `yaml:"classifier_cache_ttl"`
}

type JetStreamConfig struct {
	Url     string `yaml:"url"`
	Stream  string `yaml:"stream"`
	Durable string `yaml:"durable"`
	// Endpoint names the quota the stream is throttled by.
	Endpoint string `yaml:"endpoint"`
	Batch    int    `yaml:"batch"`
}

type IngestionConfig struct {
	Window time.Duration `yaml:"window"`
	// Quotas maps an endpoint to the records it may deliver per second.
	Quotas      map[string]int64 `yaml:"quotas"`
	PollTimeout time.Duration    `yaml:"poll_timeout"`
	JetStream   *JetStreamConfig `yaml:"jetstream"`
}

type Config struct {
	Cluster     string            `yaml:"cluster"`
	HttpPort    int               `yaml:"http_port"`
	Zookeeper   ZookeeperConfig   `yaml:"zookeeper"`
	PushMonitor PushMonitorConfig `yaml:"push_monitor"`
	Ingestion   IngestionConfig   `yaml:"ingestion"`
}

func DefaultConfig() *Config {
	return &Config{
		HttpPort: 30200,
		Zookeeper: ZookeeperConfig{
			SessionTimeout: time.Second * 10,
			MaxQps:         20000,
		},
		PushMonitor: PushMonitorConfig{
			StatusRoot:              "/push_status",
			HeartbeatRoot:           "/heartbeat",
			MaxOfflineInstanceCount: 2,
			MaxOfflineInstanceRatio: 0.25,
			GracePeriod:             time.Minute * 5,
			HeartbeatTimeout:        time.Minute * 2,
			ClassifierCacheTtl:      time.Second * 10,
		},
		Ingestion: IngestionConfig{
			Window:      time.Second,
			Quotas:      map[string]int64{},
			PollTimeout: time.Second,
		},
	}
}

func decodeConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	return cfg, nil
}

// ParseConfig overlays data on DefaultConfig.
func ParseConfig(data []byte) (*Config, error) {
	cfg, err := decodeConfig(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	return decodeConfig(data)
}

func LoadConfig(path string) (*Config, error) {
	cfg, err := readConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Cluster == "" {
		return errors.New("cluster shouldn't be empty")
	}
	pm := &c.PushMonitor
	if pm.MaxOfflineInstanceCount < 0 {
		return errors.Errorf("invalid max_offline_instance_count %d", pm.MaxOfflineInstanceCount)
	}
	if pm.MaxOfflineInstanceRatio < 0 || pm.MaxOfflineInstanceRatio > 1 {
		return errors.Errorf("invalid max_offline_instance_ratio %v", pm.MaxOfflineInstanceRatio)
	}
	if pm.GracePeriod < 0 {
		return errors.Errorf("invalid grace_period %v", pm.GracePeriod)
	}
	for endpoint, quota := range c.Ingestion.Quotas {
		if quota < -1 {
			return errors.Errorf("invalid quota %d for endpoint %s", quota, endpoint)
		}
	}
	if js := c.Ingestion.JetStream; js != nil {
		if js.Url == "" || js.Stream == "" || js.Durable == "" {
			return errors.New("jetstream needs url, stream and durable")
		}
		if js.Endpoint == "" {
			js.Endpoint = js.Url
		}
	}
	return nil
}
