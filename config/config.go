package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	OSS          OSSConfig          `mapstructure:"oss"`
	Email        EmailConfig        `mapstructure:"email"`
	Notification NotificationConfig `mapstructure:"notification"`
	Queue        QueueConfig        `mapstructure:"queue"`
	CORS         CORSConfig         `mapstructure:"cors"`
	Studio       StudioConfig       `mapstructure:"studio"`
	Owner        OwnerConfig        `mapstructure:"owner"`
	Membership   MembershipConfig   `mapstructure:"membership"`
	Booking      BookingConfig      `mapstructure:"booking"`
	Payment      PaymentConfig      `mapstructure:"payment"`
	Cron         CronConfig         `mapstructure:"cron"`
}

type ServerConfig struct {
	Host                  string `mapstructure:"host"`
	Port                  int    `mapstructure:"port"`
	Mode                  string `mapstructure:"mode"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
}

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
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	BucketName      string `mapstructure:"bucket_name"`
	CDNDomain       string `mapstructure:"cdn_domain"`
}

type EmailConfig struct {
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	FromName string `mapstructure:"from_name"`
}

// NotificationConfig 通知开关，Kinds 的 key 为通知类型（如 PaymentConfirmed）
type NotificationConfig struct {
	Enabled     bool            `mapstructure:"enabled"`
	Kinds       map[string]bool `mapstructure:"kinds"`
	MaxAttempts int             `mapstructure:"max_attempts"`
}

type QueueConfig struct {
	NotificationQueue string `mapstructure:"notification_queue"`
	MaxWorkers        int    `mapstructure:"max_workers"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

type StudioConfig struct {
	Name string `mapstructure:"name"`
}

type OwnerConfig struct {
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
	FullName string `mapstructure:"full_name"`
}

type MembershipConfig struct {
	AllowSelfApply bool `mapstructure:"allow_self_apply"`
}

type BookingConfig struct {
	CancelCutoffHours    int `mapstructure:"cancel_cutoff_hours"`
	CheckInWindowMinutes int `mapstructure:"check_in_window_minutes"`
}

type PaymentConfig struct {
	Enabled                 bool    `mapstructure:"enabled"`
	StripeSecretKey         string  `mapstructure:"stripe_secret_key"`
	WebhookSecret           string  `mapstructure:"webhook_secret"`
	SuccessURL              string  `mapstructure:"success_url"`
	CancelURL               string  `mapstructure:"cancel_url"`
	Currency                string  `mapstructure:"currency"`
	ProcessingFeePercentage float64 `mapstructure:"processing_fee_percentage"`
	ProcessingFeeFixed      float64 `mapstructure:"processing_fee_fixed"`
	AdditionalFeePercentage float64 `mapstructure:"additional_fee_percentage"`
	AdditionalFeeFixed      float64 `mapstructure:"additional_fee_fixed"`
	CheckoutExpiryHours     int     `mapstructure:"checkout_expiry_hours"`
}

// CronConfig 维护任务的 cron 表达式，空字符串表示不调度
type CronConfig struct {
	ExpireMemberships  string `mapstructure:"expire_memberships"`
	ExpireCheckouts    string `mapstructure:"expire_checkouts"`
	RetryNotifications string `mapstructure:"retry_notifications"`
}

// RequestTimeout 单个请求的超时时间
func (c ServerConfig) RequestTimeout() time.Duration {
	if c.RequestTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// CancelCutoff 取消预约的截止提前量
func (c BookingConfig) CancelCutoff() time.Duration {
	if c.CancelCutoffHours <= 0 {
		return 2 * time.Hour
	}
	return time.Duration(c.CancelCutoffHours) * time.Hour
}

// CheckInWindow 签到窗口（开课前后）
func (c BookingConfig) CheckInWindow() time.Duration {
	if c.CheckInWindowMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.CheckInWindowMinutes) * time.Minute
}

// KindEnabled 判断某类通知是否开启，未配置的类型默认开启。viper 读入的 key 是小写
func (c NotificationConfig) KindEnabled(kind string) bool {
	if c.Kinds == nil {
		return true
	}
	enabled, ok := c.Kinds[kind]
	if !ok {
		enabled, ok = c.Kinds[strings.ToLower(kind)]
	}
	return !ok || enabled
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.request_timeout_seconds", 15)
	v.SetDefault("jwt.expire_hours", 72)
	v.SetDefault("studio.name", "FramboyanScheduler")
	v.SetDefault("notification.enabled", true)
	v.SetDefault("notification.max_attempts", 3)
	v.SetDefault("queue.notification_queue", "notification_queue")
	v.SetDefault("queue.max_workers", 2)
	v.SetDefault("booking.cancel_cutoff_hours", 2)
	v.SetDefault("booking.check_in_window_minutes", 30)
	v.SetDefault("payment.currency", "usd")
	v.SetDefault("payment.processing_fee_percentage", 2.9)
	v.SetDefault("payment.processing_fee_fixed", 0.30)
	v.SetDefault("payment.checkout_expiry_hours", 24)
	v.SetDefault("cron.expire_memberships", "@every 1h")
	v.SetDefault("cron.expire_checkouts", "@every 30m")
	v.SetDefault("cron.retry_notifications", "@every 10m")
}

func Load(configPath string) (*Config, error) {
	// .env 仅用于本地开发，不存在时忽略
	_ = godotenv.Load()

	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")
	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	v := viper.New()
	setDefaults(v)
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

	return &cfg, nil
}
