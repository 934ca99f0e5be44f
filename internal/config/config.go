package config

import (
	"fmt"
	"time"

	"github.com/ManuGH/lavasync/internal/node"
	"github.com/ManuGH/lavasync/internal/player"
	"github.com/ManuGH/lavasync/internal/queue"
	"github.com/ManuGH/lavasync/internal/queue/store"
	"github.com/ManuGH/lavasync/internal/resolver"
	"github.com/disgoorg/snowflake/v2"
)

// Defaults that are not owned by another package.
const (
	DefaultClientName     = node.DefaultClientName
	DefaultListenAddr     = ":8090"
	DefaultRateLimit      = 120
	DefaultSearchCacheTTL = 5 * time.Minute
	DefaultSampleRate     = 0.1
)

// Search cache backends.
const (
	SearchCacheMemory = "memory"
	SearchCacheRedis  = "redis"
	SearchCacheNone   = "none"
)

// Telemetry exporters.
const (
	ExporterGRPC = "grpc"
	ExporterHTTP = "http"
)

// AppConfig is the complete daemon configuration.
type AppConfig struct {
	Version string `yaml:"-"`

	Client    ClientConfig    `yaml:"client"`
	Nodes     []NodeConfig    `yaml:"nodes"`
	Player    PlayerConfig    `yaml:"player"`
	Queue     QueueConfig     `yaml:"queue"`
	Search    SearchConfig    `yaml:"search"`
	Log       LogConfig       `yaml:"log"`
	API       APIConfig       `yaml:"api"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Discord   DiscordConfig   `yaml:"discord"`
}

// ClientConfig identifies the bot towards the nodes. ID may stay empty when
// Discord.Token is set; the gateway then supplies it.
type ClientConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type NodeConfig struct {
	ID                     string        `yaml:"id"`
	Host                   string        `yaml:"host"`
	Port                   int           `yaml:"port"`
	Secure                 bool          `yaml:"secure"`
	Authorization          string        `yaml:"authorization"`
	SessionID              string        `yaml:"sessionId"`
	Regions                []string      `yaml:"regions"`
	RetryAmount            int           `yaml:"retryAmount"`
	RetryDelay             time.Duration `yaml:"retryDelay"`
	RequestTimeout         time.Duration `yaml:"requestTimeout"`
	HeartbeatInterval      time.Duration `yaml:"heartbeatInterval"`
	EnablePingOnStatsCheck bool          `yaml:"enablePingOnStatsCheck"`
	// ResumeTimeout > 0 enables session resuming with that timeout.
	ResumeTimeout time.Duration `yaml:"resumeTimeout"`
}

type PlayerConfig struct {
	DefaultSearchPlatform  string             `yaml:"defaultSearchPlatform"`
	VolumeDecrementer      float64            `yaml:"volumeDecrementer"`
	ApplyVolumeAsFilter    bool               `yaml:"applyVolumeAsFilter"`
	OnDisconnect           OnDisconnectConfig `yaml:"onDisconnect"`
	OnEmptyQueue           OnEmptyQueueConfig `yaml:"onEmptyQueue"`
	MinAutoPlayInterval    time.Duration      `yaml:"minAutoPlayInterval"`
	MaxErrorsPerTime       ErrorLimitConfig   `yaml:"maxErrorsPerTime"`
	AutoSkip               bool               `yaml:"autoSkip"`
	AutoSkipOnResolveError bool               `yaml:"autoSkipOnResolveError"`
	InstaUpdateFiltersFix  bool               `yaml:"instaUpdateFiltersFix"`
	MaxFilterFixDuration   time.Duration      `yaml:"maxFilterFixDuration"`
	MergePolicy            string             `yaml:"mergePolicy"`
	// SortKey ranks nodes for new players.
	SortKey string `yaml:"sortKey"`
}

type OnDisconnectConfig struct {
	AutoReconnect bool `yaml:"autoReconnect"`
	DestroyPlayer bool `yaml:"destroyPlayer"`
}

// OnEmptyQueueConfig leaves players alive when DestroyAfter is unset.
type OnEmptyQueueConfig struct {
	DestroyAfter *time.Duration `yaml:"destroyAfter"`
}

type ErrorLimitConfig struct {
	Threshold time.Duration `yaml:"threshold"`
	MaxAmount int           `yaml:"maxAmount"`
}

type QueueConfig struct {
	MaxPreviousTracks int              `yaml:"maxPreviousTracks"`
	Store             QueueStoreConfig `yaml:"store"`
}

type QueueStoreConfig struct {
	Backend       string        `yaml:"backend"`
	Path          string        `yaml:"path"`
	RedisAddr     string        `yaml:"redisAddr"`
	RedisPassword string        `yaml:"redisPassword"`
	RedisDB       int           `yaml:"redisDb"`
	RedisPrefix   string        `yaml:"redisPrefix"`
	RedisTTL      time.Duration `yaml:"redisTtl"`
}

// SearchConfig controls the manager's search result cache.
type SearchConfig struct {
	Cache       string        `yaml:"cache"`
	TTL         time.Duration `yaml:"ttl"`
	RedisAddr   string        `yaml:"redisAddr"`
	RedisPrefix string        `yaml:"redisPrefix"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type APIConfig struct {
	ListenAddr string `yaml:"listenAddr"`
	// RateLimit is requests per minute and client IP on /api; 0 disables it.
	RateLimit int `yaml:"rateLimit"`
}

type TelemetryConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Exporter   string  `yaml:"exporter"`
	Endpoint   string  `yaml:"endpoint"`
	Insecure   bool    `yaml:"insecure"`
	SampleRate float64 `yaml:"sampleRate"`
}

type DiscordConfig struct {
	Token string `yaml:"token"`
}

// Default returns the configuration used before the file and environment
// are applied.
func Default() AppConfig {
	p := player.DefaultOptions()
	return AppConfig{
		Client: ClientConfig{Name: DefaultClientName},
		Player: PlayerConfig{
			DefaultSearchPlatform: p.DefaultSearchPlatform,
			VolumeDecrementer:     p.VolumeDecrementer,
			MinAutoPlayInterval:   p.MinAutoPlayInterval,
			MaxErrorsPerTime: ErrorLimitConfig{
				Threshold: p.MaxErrorsPerTime.Threshold,
				MaxAmount: p.MaxErrorsPerTime.MaxAmount,
			},
			AutoSkip:             p.AutoSkip,
			MaxFilterFixDuration: p.MaxFilterFixDuration,
			MergePolicy:          resolver.PreferFetched.String(),
			SortKey:              string(node.SortPlayers),
		},
		Queue: QueueConfig{
			MaxPreviousTracks: queue.DefaultMaxPreviousTracks,
			Store:             QueueStoreConfig{Backend: store.BackendMemory},
		},
		Search:    SearchConfig{Cache: SearchCacheMemory, TTL: DefaultSearchCacheTTL},
		Log:       LogConfig{Level: "info"},
		API:       APIConfig{ListenAddr: DefaultListenAddr, RateLimit: DefaultRateLimit},
		Telemetry: TelemetryConfig{Exporter: ExporterGRPC, SampleRate: DefaultSampleRate},
	}
}

// ClientID parses Client.ID. An empty id yields zero.
func (c AppConfig) ClientID() (snowflake.ID, error) {
	if c.Client.ID == "" {
		return 0, nil
	}
	id, err := snowflake.Parse(c.Client.ID)
	if err != nil {
		return 0, fmt.Errorf("client id %q: %w", c.Client.ID, err)
	}
	return id, nil
}

// Options converts the node entry.
func (n NodeConfig) Options() node.Options {
	o := node.Options{
		ID:                     n.ID,
		Host:                   n.Host,
		Port:                   n.Port,
		Secure:                 n.Secure,
		Authorization:          n.Authorization,
		SessionID:              n.SessionID,
		Regions:                append([]string(nil), n.Regions...),
		RetryAmount:            n.RetryAmount,
		RetryDelay:             n.RetryDelay,
		RequestTimeout:         n.RequestTimeout,
		HeartbeatInterval:      n.HeartbeatInterval,
		EnablePingOnStatsCheck: n.EnablePingOnStatsCheck,
	}
	// An omitted requestTimeout means the default; a negative one disables it.
	if o.RequestTimeout == 0 {
		o.RequestTimeout = node.DefaultRequestTimeout
	}
	if n.ResumeTimeout > 0 {
		o.Resuming = &node.ResumeOptions{Timeout: n.ResumeTimeout}
	}
	return o
}

// Key is the identity the node manager registers the node under.
func (n NodeConfig) Key() string { return n.Options().Key() }

// NodeOptions converts every node entry.
func (c AppConfig) NodeOptions() []node.Options {
	out := make([]node.Options, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		out = append(out, n.Options())
	}
	return out
}

// PlayerOptions converts the player section. The queue store is left for
// the caller to open.
func (c AppConfig) PlayerOptions() (player.Options, error) {
	policy, err := resolver.ParseMergePolicy(c.Player.MergePolicy)
	if err != nil {
		return player.Options{}, err
	}
	p := c.Player
	return player.Options{
		DefaultSearchPlatform: p.DefaultSearchPlatform,
		VolumeDecrementer:     p.VolumeDecrementer,
		ApplyVolumeAsFilter:   p.ApplyVolumeAsFilter,
		OnDisconnect: player.DisconnectPolicy{
			AutoReconnect: p.OnDisconnect.AutoReconnect,
			DestroyPlayer: p.OnDisconnect.DestroyPlayer,
		},
		OnEmptyQueue:        player.EmptyQueuePolicy{DestroyAfter: p.OnEmptyQueue.DestroyAfter},
		MinAutoPlayInterval: p.MinAutoPlayInterval,
		MaxErrorsPerTime: player.ErrorLimit{
			Threshold: p.MaxErrorsPerTime.Threshold,
			MaxAmount: p.MaxErrorsPerTime.MaxAmount,
		},
		AutoSkip:               p.AutoSkip,
		AutoSkipOnResolveError: p.AutoSkipOnResolveError,
		InstaUpdateFiltersFix:  p.InstaUpdateFiltersFix,
		MaxFilterFixDuration:   p.MaxFilterFixDuration,
		MergePolicy:            policy,
		Queue:                  queue.Config{MaxPreviousTracks: c.Queue.MaxPreviousTracks},
	}, nil
}

// SortKey parses Player.SortKey.
func (c AppConfig) SortKey() (node.SortKey, error) {
	return node.ParseSortKey(c.Player.SortKey)
}

// StoreConfig converts the queue store section.
func (c AppConfig) StoreConfig() store.Config {
	s := c.Queue.Store
	return store.Config{
		Backend: s.Backend,
		Path:    s.Path,
		Redis: store.RedisConfig{
			Addr:     s.RedisAddr,
			Password: s.RedisPassword,
			DB:       s.RedisDB,
			Prefix:   s.RedisPrefix,
			TTL:      s.RedisTTL,
		},
	}
}
