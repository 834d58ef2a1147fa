package models

// MConfig Structure
type MConfig struct {
	Name     string          `yaml:"name"`
	Host     string          `yaml:"host"`
	Port     int             `yaml:"port"`
	LogLevel string          `yaml:"log_level"`
	Storage  MStorageConfig  `yaml:"storage"`
	Network  MNetworkConfig  `yaml:"network"`
	Upstream MUpstreamConfig `yaml:"upstream"`
	Push     MPushConfig     `yaml:"push"`
	Cache    MCacheConfig    `yaml:"cache"`
}

type MStorageConfig struct {
	DBType             string `yaml:"db_type"`
	DBPath             string `yaml:"db_path"`
	DBConnectionString string `yaml:"db_connection_string"`
}

type MNetworkConfig struct {
	RequestTimeout int    `yaml:"timeout"`
	MaxRetries     int    `yaml:"retries"`
	UserAgent      string `yaml:"user_agent"`
}

// MUpstreamConfig describes the original server being mirrored.
type MUpstreamConfig struct {
	BaseURL             string `yaml:"base_url"`
	TokenTTLSeconds     int    `yaml:"token_ttl_seconds"`
	BackoffBaseMs       int    `yaml:"backoff_base_ms"`
	BackoffMaxMs        int    `yaml:"backoff_max_ms"`
	WatchdogSeconds     int    `yaml:"watchdog_seconds"`
	ReconcileSeconds    int    `yaml:"reconcile_seconds"`
	ResultResyncDelayMs int    `yaml:"result_resync_delay_ms"`
	InjectResyncDelayMs int    `yaml:"inject_resync_delay_ms"`
}

type MPushConfig struct {
	Enabled         bool   `yaml:"enabled"`
	VapidPublicKey  string `yaml:"vapid_public_key"`
	VapidPrivateKey string `yaml:"vapid_private_key"`
	Subscriber      string `yaml:"subscriber"`
	TTLSeconds      int    `yaml:"ttl_seconds"`
	QueueSize       int    `yaml:"queue_size"`
}

type MCacheConfig struct {
	VelasLimit    int `yaml:"velas_limit"`
	ClickLogLimit int `yaml:"click_log_limit"`
	CampaignLimit int `yaml:"campaign_limit"`
}
