// Package config 提供 msgrelay 的配置加载与热更新。
//
// config 是 msgrelay 的配置层，它提供了：
// - 基于 viper 的 YAML 配置文件加载
// - .env 文件支持（godotenv，缺失时静默跳过）
// - 环境变量覆盖：前缀 RELAY，点号换下划线
//   （如 RELAY_SERVER_ADDR 覆盖 server.addr）
// - 配置文件热更新（viper WatchConfig + fsnotify 事件回调）
//
// 所有可调参数（超时、重试次数与间隔、熔断阈值、限流窗口与配额、
// 分段上限与开关、密钥）都经由本包进入各组件，代码中不允许硬编码。
//
// ## 基本使用
//
//	cfg, err := config.Load("configs/config.yaml")
//
//	// 或者需要热更新时：
//	loader, _ := config.NewLoader("configs/config.yaml", config.WithLogger(logger))
//	cfg := loader.Config()
//	loader.Watch(func(next *config.AppConfig) {
//		logger.SetLevel(next.Log.Level)
//	})
package config

import (
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ceyewan/msgrelay/backend"
	"github.com/ceyewan/msgrelay/breaker"
	"github.com/ceyewan/msgrelay/clog"
	"github.com/ceyewan/msgrelay/connector"
	"github.com/ceyewan/msgrelay/metrics"
	"github.com/ceyewan/msgrelay/platform"
	"github.com/ceyewan/msgrelay/relay"
	"github.com/ceyewan/msgrelay/server"
	"github.com/ceyewan/msgrelay/signature"
	"github.com/ceyewan/msgrelay/xerrors"
)

// envPrefix 环境变量前缀
const envPrefix = "RELAY"

// ========================================
// 配置定义 (Configuration)
// ========================================

// AppConfig 应用全量配置，聚合各组件的 Config
type AppConfig struct {
	Server    server.Config          `json:"server" yaml:"server"`
	Log       clog.Config            `json:"log" yaml:"log"`
	Metrics   metrics.Config         `json:"metrics" yaml:"metrics"`
	Redis     RedisConfig            `json:"redis" yaml:"redis"`
	Signature signature.Config       `json:"signature" yaml:"signature"`
	Breaker   breaker.Config         `json:"breaker" yaml:"breaker"`
	Relay     relay.Config           `json:"relay" yaml:"relay"`
	Backend   backend.Config         `json:"backend" yaml:"backend"`
	Channel   platform.ChannelConfig `json:"channel" yaml:"channel"`
}

// RedisConfig Redis 段：连接参数加启用开关
//
// Enabled 为 false 时限流器以单机模式运行，不建立 Redis 连接。
type RedisConfig struct {
	connector.RedisConfig `yaml:",squash"`

	Enabled bool `json:"enabled" yaml:"enabled"`
}

// ========================================
// 工厂函数 (Factory Functions)
// ========================================

// Loader 配置加载器，持有 viper 实例以支持热更新
type Loader struct {
	v      *viper.Viper
	logger clog.Logger

	mu  sync.RWMutex
	cfg *AppConfig
}

// Load 一次性加载配置
//
// path 为空时在当前目录与 ./configs 下查找 config.yaml；
// 文件缺失不报错，以默认值加环境变量运行。
func Load(path string, opts ...Option) (*AppConfig, error) {
	loader, err := NewLoader(path, opts...)
	if err != nil {
		return nil, err
	}
	return loader.Config(), nil
}

// NewLoader 创建配置加载器
//
// 参数:
//   - path: 配置文件路径，空时按默认位置查找
//   - opts: 可选参数 (Logger)
func NewLoader(path string, opts ...Option) (*Loader, error) {
	opt := options{}
	for _, o := range opts {
		o(&opt)
	}

	logger := opt.logger
	if logger == nil {
		logger = clog.Discard()
	}
	logger = logger.With(clog.String("component", "config"))

	// .env 先于环境变量读取，缺失时静默跳过
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, xerrors.Wrapf(err, "config: read %s", path)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !xerrors.As(err, &notFound) {
				return nil, xerrors.Wrap(err, "config: read")
			}
			logger.Info("no config file found, using defaults and environment")
		}
	}

	l := &Loader{v: v, logger: logger}
	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}
	l.cfg = cfg

	logger.Info("configuration loaded",
		clog.String("file", v.ConfigFileUsed()),
		clog.String("server_addr", cfg.Server.Addr))
	return l, nil
}

// Config 返回当前配置快照
func (l *Loader) Config() *AppConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// Watch 监听配置文件变更，每次成功重载后回调
//
// 重载失败时保留旧配置并记录错误，不回调。
func (l *Loader) Watch(onChange func(*AppConfig)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		next, err := l.decode()
		if err != nil {
			l.logger.Error("config reload failed, keeping previous",
				clog.String("file", e.Name),
				clog.Error(err))
			return
		}

		l.mu.Lock()
		l.cfg = next
		l.mu.Unlock()

		l.logger.Info("configuration reloaded", clog.String("file", e.Name))
		if onChange != nil {
			onChange(next)
		}
	})
	l.v.WatchConfig()
}

// decode 将 viper 的合并视图反序列化为 AppConfig
func (l *Loader) decode() (*AppConfig, error) {
	cfg := &AppConfig{}
	err := l.v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "config: unmarshal")
	}
	return cfg, nil
}

// setDefaults 注册默认值
//
// 仅覆盖环境变量需要提前感知的键；组件级默认值由各组件的
// setDefaults 负责，这里不重复。
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.verify_token", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("metrics.namespace", "msgrelay")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("signature.secret", "")
	v.SetDefault("backend.base_url", "")
	v.SetDefault("channel.base_url", "")
	v.SetDefault("channel.access_token", "")
	v.SetDefault("relay.rate_limit.requests", 0)
	v.SetDefault("relay.rate_limit.window", "1m")
}
