package connector

import (
	"time"

	"github.com/ceyewan/msgrelay/xerrors"
)

// RedisConfig Redis 连接配置
type RedisConfig struct {
	// Name 连接器名称，用于日志与错误信息（默认："redis"）
	Name string `json:"name" yaml:"name"`

	// Addr Redis 地址，host:port 形式
	Addr string `json:"addr" yaml:"addr"`

	// Password 密码（默认：空）
	Password string `json:"password" yaml:"password"`

	// DB 数据库编号（默认：0）
	DB int `json:"db" yaml:"db"`

	// PoolSize 连接池大小（默认：10）
	PoolSize int `json:"pool_size" yaml:"pool_size"`

	// DialTimeout 建连超时（默认：5s）
	DialTimeout time.Duration `json:"dial_timeout" yaml:"dial_timeout"`

	// ReadTimeout 读超时（默认：3s）
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout 写超时（默认：3s）
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
}

// setDefaults 填充默认值
func (c *RedisConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "redis"
	}
	if c.PoolSize == 0 {
		c.PoolSize = 10
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 3 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 3 * time.Second
	}
}

// validate 验证配置
func (c *RedisConfig) validate() error {
	if c.Addr == "" {
		return xerrors.New("connector: redis addr is empty")
	}
	return nil
}
