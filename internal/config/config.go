package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config wisefido-ota（设备OTA接入服务）配置
type Config struct {
	HTTP struct {
		Addr string
	}
	DBEnabled bool
	Database  DatabaseConfig
	Redis     struct {
		Addr     string
		Password string
		DB       int
	}
	Log struct {
		Level  string
		Format string
	}
	JWT struct {
		Secret string
		Issuer string
	}
	OTA      OTAConfig
	Firmware FirmwareConfig
	MQTT     MQTTConfig
	Sweep    struct {
		IntervalMinutes int
	}
}

// DatabaseConfig PostgreSQL 连接配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 构建 lib/pq 连接串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// OTAConfig 设备接入/凭证下发配置
type OTAConfig struct {
	WebsocketServer string // 下发给已激活设备的 WebSocket 服务器地址
	WebsocketPort   int
	WebsocketPath   string
	ActivationTTLMinutes int // 激活码有效期（分钟）
	TokenTTLHours        int // 访问令牌有效期（小时）
	ActivationMessage    string
}

// FirmwareConfig 固件目录服务配置（禁用时检查钩子恒返回"无更新"）
type FirmwareConfig struct {
	Enabled     bool
	HttpAddress string // 固件目录服务地址
	TimeoutSecs int
}

// MQTTConfig MQTT 配置（用于发布设备生命周期事件，默认禁用）
type MQTTConfig struct {
	Enabled     bool
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string // 如 "wisefido/ota"
}

func Load() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8082")

	// Default to true for local dev: if DB is unavailable, wisefido-ota will fall back to memory repos.
	cfg.DBEnabled = getEnv("DB_ENABLED", "true") == "true"
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "owlrd")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = parseInt(getEnv("DB_MAX_CONNS", "20"), 20)
	cfg.Database.MaxIdle = parseInt(getEnv("DB_MAX_IDLE", "5"), 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0
	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	cfg.JWT.Secret = getEnv("JWT_SECRET", "wisefido-ota-dev-secret-change-me")
	cfg.JWT.Issuer = getEnv("JWT_ISSUER", "wisefido-ota")

	// OTA 配置（设备激活/凭证下发）
	cfg.OTA.WebsocketServer = getEnv("OTA_WS_SERVER", "localhost")
	cfg.OTA.WebsocketPort = parseInt(getEnv("OTA_WS_PORT", "8765"), 8765)
	cfg.OTA.WebsocketPath = getEnv("OTA_WS_PATH", "/ws")
	cfg.OTA.ActivationTTLMinutes = parseInt(getEnv("OTA_ACTIVATION_TTL_MINUTES", "30"), 30)
	cfg.OTA.TokenTTLHours = parseInt(getEnv("OTA_TOKEN_TTL_HOURS", "168"), 168) // 一周
	cfg.OTA.ActivationMessage = getEnv("OTA_ACTIVATION_MESSAGE", "Please enter this activation code in the web app")

	// 固件目录服务（默认禁用，检查钩子返回"无更新"）
	cfg.Firmware.Enabled = getEnv("FIRMWARE_ENABLED", "false") == "true"
	cfg.Firmware.HttpAddress = getEnv("FIRMWARE_HTTP_ADDRESS", "http://localhost:8090")
	cfg.Firmware.TimeoutSecs = parseInt(getEnv("FIRMWARE_TIMEOUT_SECS", "5"), 5)

	// MQTT 事件发布（默认禁用）
	cfg.MQTT.Enabled = getEnv("MQTT_ENABLED", "false") == "true"
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "wisefido-ota")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", "wisefido/ota")

	cfg.Sweep.IntervalMinutes = parseInt(getEnv("SWEEP_INTERVAL_MINUTES", "60"), 60)

	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return def
}
