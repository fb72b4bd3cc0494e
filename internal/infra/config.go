package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации шлюза.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Site     SiteConfig     `mapstructure:"site"`
	Consent  ConsentConfig  `mapstructure:"consent"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Geo      GeoConfig      `mapstructure:"geo"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig описывает подключение к PostgreSQL (журнал доставки).
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (слоты очереди/согласия, Pub/Sub).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит ключи для консоли (RS256) и секрет anti-forgery токена релея.
type AuthConfig struct {
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"` // Только для Console API
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	BcryptCost     int           `mapstructure:"bcrypt_cost"`
	AdminUser      string        `mapstructure:"admin_user"`
	AdminPassHash  string        `mapstructure:"admin_pass_hash"` // bcrypt-хэш
	RelaySecret    string        `mapstructure:"relay_secret"`    // HS256 для X-Relay-Token
	PublicKey      []byte
	PrivateKey     []byte
}

// SiteConfig — сайт, чей трафик обслуживает шлюз.
type SiteConfig struct {
	Domain string `mapstructure:"domain"` // Для отсечения same-site рефереров и X-Origin релея
	// Считать переходы внутри того же домена навигацией, а не новой атрибуцией
	IgnoreSameSiteReferrer bool `mapstructure:"ignore_same_site_referrer"`
}

// ConsentConfig управляет машиной согласия.
type ConsentConfig struct {
	// Через сколько после первого хита применяем неявный "treat as granted".
	// 0 выключает таймаут полностью.
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	// Срок жизни записи согласия; по истечении запрашиваем заново.
	RecordTTL time.Duration `mapstructure:"record_ttl"`
}

// QueueConfig ограничивает очередь отложенных событий.
type QueueConfig struct {
	MaxEvents     int           `mapstructure:"max_events"`     // Кап по количеству (50)
	MaxBytes      int           `mapstructure:"max_bytes"`      // Кап по размеру слота (50 КБ)
	EventTTL      time.Duration `mapstructure:"event_ttl"`      // Возраст эвикции (24ч)
	BatchSize     int           `mapstructure:"batch_size"`     // Порог авто-флаша (35)
	SweepInterval time.Duration `mapstructure:"sweep_interval"` // Фоновая чистка (5мин)
}

// GeoConfig — обогащение локацией.
type GeoConfig struct {
	ProviderURLs []string      `mapstructure:"provider_urls"` // Цепочка IP-геолокаторов
	Timeout      time.Duration `mapstructure:"timeout"`       // Таймаут HTTP-клиента провайдера
}

// DeliveryConfig — маршрутизация и надежность доставки.
type DeliveryConfig struct {
	// direct | relay-checked | relay-secure (дефолт). Остальные стратегии
	// образуют fallback-цепочку в фиксированном порядке приоритета.
	Strategy     string `mapstructure:"strategy"`
	EndpointURL  string `mapstructure:"endpoint_url"`  // Прямой сборщик
	RelayURL     string `mapstructure:"relay_url"`     // First-party релей
	BotCheckURL  string `mapstructure:"bot_check_url"` // Валидатор ботов (пусто = выключен)
	BotThreshold float64 `mapstructure:"bot_threshold"`
	// Ключ шифрования полезной нагрузки для relay-secure (32 байта, hex)
	PayloadKey string `mapstructure:"payload_key"`

	// Настройки Circuit Breaker для исходящих отправок
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`

	ReliableBuffer int `mapstructure:"reliable_buffer"` // Буфер reliable-воркера
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")    // имя файла без расширения
	v.SetConfigType("yaml")      // формат
	v.AddConfigPath(".")         // ищем в корне
	v.AddConfigPath("./configs") // и в папке с конфигами

	// 2. Настройка переменных окружения (ENV)
	// Позволяет перекрывать конфиг: SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Загрузка ключей из Файла ИЛИ из ENV
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("logger.level", "info")

	v.SetDefault("site.ignore_same_site_referrer", true)

	v.SetDefault("consent.default_timeout", 30*time.Second)
	v.SetDefault("consent.record_ttl", 365*24*time.Hour)

	v.SetDefault("queue.max_events", 50)
	v.SetDefault("queue.max_bytes", 50*1024)
	v.SetDefault("queue.event_ttl", 24*time.Hour)
	v.SetDefault("queue.batch_size", 35)
	v.SetDefault("queue.sweep_interval", 5*time.Minute)

	v.SetDefault("geo.timeout", 3*time.Second)

	v.SetDefault("delivery.strategy", "relay-secure")
	v.SetDefault("delivery.bot_threshold", 0.7)
	v.SetDefault("delivery.cb_max_requests", 3)
	v.SetDefault("delivery.cb_interval", 5*time.Second)
	v.SetDefault("delivery.cb_timeout", 30*time.Second)
	v.SetDefault("delivery.reliable_buffer", 1000)
}

// loadKeyResource — универсальный хелпер: ключ либо напрямую в ENV, либо файлом
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
