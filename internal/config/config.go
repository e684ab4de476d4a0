package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sshcollectorpro/acsconsole/pkg/console"
	"github.com/sshcollectorpro/acsconsole/pkg/logger"
	acsssh "github.com/sshcollectorpro/acsconsole/pkg/ssh"
)

// EnvPrefix 环境变量前缀，例如 ACS_CONSOLE_ACS_PASSWORD
const EnvPrefix = "ACS_CONSOLE"

// Config 应用配置结构
type Config struct {
	ACS        ACSConfig        `mapstructure:"acs"`
	Console    ConsoleConfig    `mapstructure:"console"`
	SessionLog SessionLogConfig `mapstructure:"session_log"`
	SSH        SSHConfig        `mapstructure:"ssh"`
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Log        logger.Config    `mapstructure:"log"`
	Simulate   SimulateConfig   `mapstructure:"simulate"`
}

// ACSConfig 默认连接的终端服务器与设备端口
type ACSConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// ConsolePort Avocent 串口号，PortSuffixLogin 为 true 时拼接为 user:port
	ConsolePort     int    `mapstructure:"console_port"`
	PortSuffixLogin bool   `mapstructure:"port_suffix_login"`
	Platform        string `mapstructure:"platform"`
}

// ConsoleConfig 控制台交互时序
type ConsoleConfig struct {
	ConnectTimeout      time.Duration `mapstructure:"connect_timeout"`
	SessionTimeout      time.Duration `mapstructure:"session_timeout"`
	ReadTimeoutOverride time.Duration `mapstructure:"read_timeout_override"`
	DelayFactor         float64       `mapstructure:"delay_factor"`
	BannerSettle        time.Duration `mapstructure:"banner_settle"`
	RecoveryWait        time.Duration `mapstructure:"recovery_wait"`
	PagingSettle        time.Duration `mapstructure:"paging_settle"`
	PagingReadTimeout   time.Duration `mapstructure:"paging_read_timeout"`
	DisconnectPause     time.Duration `mapstructure:"disconnect_pause"`
	LoopDelay           time.Duration `mapstructure:"loop_delay"`
	LastRead            time.Duration `mapstructure:"last_read"`
	// CommandReadTimeout 单条命令读取超时，0 表示使用内置默认
	CommandReadTimeout time.Duration `mapstructure:"command_read_timeout"`
}

// SessionLogConfig 会话原始记录
type SessionLogConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Dir        string `mapstructure:"dir"`
	Append     bool   `mapstructure:"append"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// SSHConfig SSH配置
type SSHConfig struct {
	KeepAlive      time.Duration `mapstructure:"keep_alive"`
	KnownHostsFile string        `mapstructure:"known_hosts_file"`
	TermTypes      []string      `mapstructure:"term_types"`
	TermWidth      int           `mapstructure:"term_width"`
	TermHeight     int           `mapstructure:"term_height"`
	Charset        string        `mapstructure:"charset"`
	// MaxActive 同时保持的终端服务器连接上限，0 不限制
	MaxActive       int           `mapstructure:"max_active"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// MaxConcurrent 同时执行的控制台任务数
	MaxConcurrent int64 `mapstructure:"max_concurrent"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

// SQLiteConfig SQLite配置
type SQLiteConfig struct {
	Path            string        `mapstructure:"path"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// StorageConfig 会话记录归档：none | local | minio
type StorageConfig struct {
	Backend string             `mapstructure:"backend"`
	Local   LocalStorageConfig `mapstructure:"local"`
	Minio   MinioConfig        `mapstructure:"minio"`
}

// LocalStorageConfig 本地存储配置
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// MinioConfig 对象存储配置
type MinioConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Secure    bool   `mapstructure:"secure"`
	Prefix    string `mapstructure:"prefix"`
}

// SimulateConfig 内置 ACS 模拟器
type SimulateConfig struct {
	Enable     bool   `mapstructure:"enable"`
	ConfigFile string `mapstructure:"config_file"`
}

// Load 加载配置文件；configPath 为空时在 configs 目录下查找 config.yaml
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath("../../configs")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// 未显式指定且找不到配置文件时仅使用默认值与环境变量
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		logger.Debug("Config file not found, using defaults")
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.ACS.Password = expandEnv(config.ACS.Password)
	config.Storage.Minio.SecretKey = expandEnv(config.Storage.Minio.SecretKey)

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	def := console.DefaultOptions()

	// 所有键都需要默认值，AutomaticEnv 才能在 Unmarshal 时生效
	v.SetDefault("acs.host", "")
	v.SetDefault("acs.port", 22)
	v.SetDefault("acs.username", "")
	v.SetDefault("acs.password", "")
	v.SetDefault("acs.console_port", 0)
	v.SetDefault("acs.port_suffix_login", true)
	v.SetDefault("acs.platform", "default")

	v.SetDefault("console.connect_timeout", def.ConnectTimeout)
	v.SetDefault("console.session_timeout", def.SessionTimeout)
	v.SetDefault("console.read_timeout_override", def.ReadTimeoutOverride)
	v.SetDefault("console.delay_factor", def.DelayFactor)
	v.SetDefault("console.banner_settle", def.BannerSettle)
	v.SetDefault("console.recovery_wait", def.RecoveryWait)
	v.SetDefault("console.paging_settle", def.PagingSettle)
	v.SetDefault("console.paging_read_timeout", def.PagingReadTimeout)
	v.SetDefault("console.disconnect_pause", def.DisconnectPause)
	v.SetDefault("console.loop_delay", def.LoopDelay)
	v.SetDefault("console.last_read", def.LastRead)
	v.SetDefault("console.command_read_timeout", 0)

	v.SetDefault("session_log.enabled", false)
	v.SetDefault("session_log.dir", "./logs/sessions")
	v.SetDefault("session_log.append", false)
	v.SetDefault("session_log.max_size", 50)
	v.SetDefault("session_log.max_backups", 5)

	v.SetDefault("ssh.keep_alive", 0)
	v.SetDefault("ssh.known_hosts_file", "")
	v.SetDefault("ssh.charset", "")
	v.SetDefault("ssh.term_types", []string{"vt100", "xterm", "ansi", "dumb"})
	v.SetDefault("ssh.term_width", 200)
	v.SetDefault("ssh.term_height", 24)
	v.SetDefault("ssh.max_active", 0)
	v.SetDefault("ssh.cleanup_interval", 30*time.Second)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 18080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Minute)
	v.SetDefault("server.max_concurrent", 8)

	v.SetDefault("database.sqlite.path", "./data/acsconsole.db")
	v.SetDefault("database.sqlite.max_idle_conns", 2)
	v.SetDefault("database.sqlite.max_open_conns", 4)
	v.SetDefault("database.sqlite.conn_max_lifetime", time.Hour)

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local.base_dir", "./data/transcripts")
	v.SetDefault("storage.minio.host", "")
	v.SetDefault("storage.minio.port", 9000)
	v.SetDefault("storage.minio.access_key", "")
	v.SetDefault("storage.minio.secret_key", "")
	v.SetDefault("storage.minio.secure", false)
	v.SetDefault("storage.minio.bucket", "acs-console")
	v.SetDefault("storage.minio.prefix", "transcripts")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "console")
	v.SetDefault("log.file_path", "./logs/acsconsole.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 7)

	v.SetDefault("simulate.enable", false)
	v.SetDefault("simulate.config_file", "")
}

// expandEnv 支持 ${VAR} 形式的密码占位
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		if value := os.Getenv(strings.TrimSuffix(strings.TrimPrefix(s, "${"), "}")); value != "" {
			return value
		}
	}
	return s
}

// ConsoleOptions 转换为 console.Options，SessionLog 由调用方按目标单独设置
func (c *Config) ConsoleOptions() console.Options {
	opts := console.DefaultOptions()
	cc := c.Console
	opts.ConnectTimeout = cc.ConnectTimeout
	opts.SessionTimeout = cc.SessionTimeout
	opts.ReadTimeoutOverride = cc.ReadTimeoutOverride
	opts.DelayFactor = cc.DelayFactor
	opts.BannerSettle = cc.BannerSettle
	opts.RecoveryWait = cc.RecoveryWait
	opts.PagingSettle = cc.PagingSettle
	opts.PagingReadTimeout = cc.PagingReadTimeout
	opts.DisconnectPause = cc.DisconnectPause
	opts.LoopDelay = cc.LoopDelay
	opts.LastRead = cc.LastRead
	return opts
}

// Target 默认目标
func (c *Config) Target() console.Target {
	return console.Target{
		Host:            c.ACS.Host,
		Port:            c.ACS.Port,
		Username:        c.ACS.Username,
		Password:        c.ACS.Password,
		ConsolePort:     c.ACS.ConsolePort,
		PortSuffixLogin: c.ACS.PortSuffixLogin,
	}
}

// SSHPool 终端服务器连接池配置
func (c *Config) SSHPool() *acsssh.PoolConfig {
	return &acsssh.PoolConfig{
		MaxActive:     c.SSH.MaxActive,
		CheckInterval: c.SSH.CleanupInterval,
		SSHConfig: &acsssh.Config{
			Timeout:        c.Console.ConnectTimeout,
			KeepAlive:      c.SSH.KeepAlive,
			KnownHostsFile: c.SSH.KnownHostsFile,
			TermTypes:      c.SSH.TermTypes,
			TermWidth:      c.SSH.TermWidth,
			TermHeight:     c.SSH.TermHeight,
			Charset:        c.SSH.Charset,
		},
	}
}

// GetServerAddr 获取服务器地址
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
