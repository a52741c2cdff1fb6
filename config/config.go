package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Email    EmailConfig    `mapstructure:"email"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	Sweeper  SweeperConfig  `mapstructure:"sweeper"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 支付审计库（可选，Host 为空时不启用）
type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret          string `mapstructure:"secret"`
	ExpireHours     int    `mapstructure:"expire_hours"`
	SessionTTLHours int    `mapstructure:"session_ttl_hours"`
}

type EmailConfig struct {
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	SiteName string `mapstructure:"site_name"`
}

// PaymentConfig 虎皮椒支付网关配置
type PaymentConfig struct {
	AppID          string                `mapstructure:"appid"`
	AppSecret      string                `mapstructure:"app_secret"`
	MchID          string                `mapstructure:"mchid"`
	APIURL         string                `mapstructure:"api_url"`
	QueryURL       string                `mapstructure:"query_url"`
	NotifyURL      string                `mapstructure:"notify_url"`
	ReturnURL      string                `mapstructure:"return_url"`
	Type           string                `mapstructure:"type"`
	TimeoutSeconds int                   `mapstructure:"timeout_seconds"`
	Plans          map[string]PlanConfig `mapstructure:"plans"`
}

// PlanConfig 套餐价格，FirstPrice 为首次付费优惠价
type PlanConfig struct {
	Title      string  `mapstructure:"title"`
	Price      float64 `mapstructure:"price"`
	FirstPrice float64 `mapstructure:"first_price"`
}

type SweeperConfig struct {
	IntervalSeconds   int `mapstructure:"interval_seconds"`
	RetryDelaySeconds int `mapstructure:"retry_delay_seconds"`
}

type QueueConfig struct {
	AnalysisQueue string `mapstructure:"analysis_queue"`
	MaxWorkers    int    `mapstructure:"max_workers"`
}

// PipelineConfig 外部分析流水线
type PipelineConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// 环境变量覆盖
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Normalize()
	return &cfg, nil
}

// Normalize 为未配置的字段填充默认值
func (c *Config) Normalize() {
	if c.JWT.ExpireHours <= 0 {
		c.JWT.ExpireHours = 30 * 24
	}
	if c.JWT.SessionTTLHours <= 0 {
		c.JWT.SessionTTLHours = 24
	}
	if c.Payment.APIURL == "" {
		c.Payment.APIURL = "https://api.xunhupay.com/payment/do.html"
	}
	if c.Payment.QueryURL == "" {
		c.Payment.QueryURL = "https://api.xunhupay.com/payment/query.html"
	}
	if c.Payment.Type == "" {
		c.Payment.Type = "WAP"
	}
	if c.Payment.TimeoutSeconds <= 0 {
		c.Payment.TimeoutSeconds = 10
	}
	if c.Sweeper.IntervalSeconds <= 0 {
		c.Sweeper.IntervalSeconds = 3600
	}
	if c.Sweeper.RetryDelaySeconds <= 0 {
		c.Sweeper.RetryDelaySeconds = 60
	}
	if c.Queue.AnalysisQueue == "" {
		c.Queue.AnalysisQueue = "analysis_jobs"
	}
	if c.Queue.MaxWorkers <= 0 {
		c.Queue.MaxWorkers = 2
	}
	if c.Pipeline.TimeoutSeconds <= 0 {
		c.Pipeline.TimeoutSeconds = 600
	}
	if c.Email.SiteName == "" {
		c.Email.SiteName = "AI股票分析"
	}
}

func (c *JWTConfig) TokenTTL() time.Duration {
	return time.Duration(c.ExpireHours) * time.Hour
}

func (c *JWTConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

func (c *PaymentConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PlanPrice 返回套餐价格，first 为 true 时使用首次付费价（未配置则回退原价）
func (c *PaymentConfig) PlanPrice(plan string, first bool) (decimal.Decimal, bool) {
	p, ok := c.Plans[plan]
	if !ok {
		return decimal.Zero, false
	}
	if first && p.FirstPrice > 0 {
		return decimal.NewFromFloat(p.FirstPrice), true
	}
	return decimal.NewFromFloat(p.Price), true
}

func (c *SweeperConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c *SweeperConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}
