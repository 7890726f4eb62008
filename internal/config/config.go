package config

import (
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration values
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Tron       TronConfig
	Rental     RentalConfig
	Settlement SettlementConfig
	Security   SecurityConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Env  string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	AutoMigrate bool
}

// URL returns the database connection URL
func (c DatabaseConfig) URL() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + strconv.Itoa(c.Port) + "/" + c.DBName + "?sslmode=" + c.SSLMode
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL           string
	PASSWORD      string
	NotifyChannel string
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret       string
	AccessExpiry time.Duration
}

// TronConfig holds the chain node and custody account settings
type TronConfig struct {
	GRPCURL         string
	APIKey          string
	QPS             int
	USDTContract    string
	USDTDecimals    int32
	AggregateAddr   string
	AggregateKeyEnc string
	FeePayerAddr    string
	FeePayerKeyEnc  string
	FeeLimitSun     int64
	CallTimeout     time.Duration
}

// RentalConfig holds energy rental provider settings
type RentalConfig struct {
	Endpoint          string
	APIKey            string
	MinUnits          int64
	Step              int64
	RentTime          int
	Cooldown          time.Duration
	ActivationTimeout time.Duration
	PollInterval      time.Duration
}

// SettlementConfig holds thresholds and cadence of the settlement engine
type SettlementConfig struct {
	MinDeposit            decimal.Decimal
	MinWithdraw           decimal.Decimal
	WithdrawFee           decimal.Decimal
	Epsilon               decimal.Decimal
	SweepEnergyRequire    int64
	WithdrawEnergyRequire int64
	BandwidthRequire      int64
	BandwidthTopUpSun     int64
	OrderExpiry           time.Duration
	BatchLimit            int
	SchedulerInterval     time.Duration
	ConfirmTimeout        time.Duration
	ConfirmPollInterval   time.Duration
	StaleSweepAfter       time.Duration
	PoolTTL               time.Duration
	PoolMaxShares         int
}

// SecurityConfig holds security encryption keys
type SecurityConfig struct {
	KeyEncryptionKey string
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Env:  getEnv("SERVER_ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:        getEnv("DB_HOST", "localhost"),
			Port:        getEnvAsInt("DB_PORT", 5432),
			User:        getEnv("DB_USER", "postgres"),
			Password:    getEnv("DB_PASSWORD", "postgres"),
			DBName:      getEnv("DB_NAME", "custody"),
			SSLMode:     getEnv("DB_SSLMODE", "disable"),
			AutoMigrate: getEnvAsBool("DB_AUTO_MIGRATE", false),
		},
		Redis: RedisConfig{
			URL:           getEnv("REDIS_URL", "redis://localhost:6379"),
			PASSWORD:      getEnv("REDIS_PASSWORD", ""),
			NotifyChannel: getEnv("NOTIFY_CHANNEL", "custody:notify"),
		},
		JWT: JWTConfig{
			Secret:       getEnv("JWT_SECRET", "change-this-in-production"),
			AccessExpiry: getEnvAsDuration("JWT_ACCESS_EXPIRY", 24*time.Hour),
		},
		Tron: TronConfig{
			GRPCURL:         getEnv("TRON_GRPC_URL", "grpc.trongrid.io:50051"),
			APIKey:          getEnv("TRONGRID_API_KEY", ""),
			QPS:             getEnvAsInt("TRONGRID_QPS", 10),
			USDTContract:    getEnv("USDT_CONTRACT", "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"),
			USDTDecimals:    int32(getEnvAsInt("USDT_DECIMALS", 6)),
			AggregateAddr:   getEnv("AGGREGATE_ADDRESS", ""),
			AggregateKeyEnc: getEnv("AGGREGATE_KEY_ENC", ""),
			FeePayerAddr:    getEnv("FEE_PAYER_ADDRESS", ""),
			FeePayerKeyEnc:  getEnv("FEE_PAYER_KEY_ENC", ""),
			FeeLimitSun:     getEnvAsInt64("TRON_FEE_LIMIT_SUN", 30_000_000),
			CallTimeout:     getEnvAsDuration("TRON_CALL_TIMEOUT", 10*time.Second),
		},
		Rental: RentalConfig{
			Endpoint:          getEnv("RENTAL_ENDPOINT", "https://trongas.io/api/batchPay"),
			APIKey:            getEnv("TRONGAS_API_KEY", ""),
			MinUnits:          getEnvAsInt64("RENTAL_MIN_UNITS", 32000),
			Step:              getEnvAsInt64("RENTAL_STEP", 1000),
			RentTime:          getEnvAsInt("RENTAL_TIME", 1),
			Cooldown:          getEnvAsDuration("RENTAL_COOLDOWN", time.Hour),
			ActivationTimeout: getEnvAsDuration("RENTAL_ACTIVATION_TIMEOUT", 30*time.Second),
			PollInterval:      getEnvAsDuration("RENTAL_POLL_INTERVAL", 2*time.Second),
		},
		Settlement: SettlementConfig{
			MinDeposit:            getEnvAsDecimal("MIN_DEPOSIT", decimal.NewFromInt(10)),
			MinWithdraw:           getEnvAsDecimal("MIN_WITHDRAW", decimal.NewFromInt(5)),
			WithdrawFee:           getEnvAsDecimal("WITHDRAW_FEE", decimal.NewFromInt(1)),
			Epsilon:               getEnvAsDecimal("SETTLEMENT_EPSILON", decimal.New(1, -6)),
			SweepEnergyRequire:    getEnvAsInt64("SWEEP_ENERGY_REQUIRE", 65000),
			WithdrawEnergyRequire: getEnvAsInt64("WITHDRAW_ENERGY_REQUIRE", 90000),
			BandwidthRequire:      getEnvAsInt64("BANDWIDTH_REQUIRE", 345),
			BandwidthTopUpSun:     getEnvAsInt64("BANDWIDTH_TOPUP_SUN", 1_000_000),
			OrderExpiry:           getEnvAsDuration("ORDER_EXPIRY", 15*time.Minute),
			BatchLimit:            getEnvAsInt("BATCH_LIMIT", 100),
			SchedulerInterval:     getEnvAsDuration("SCHEDULER_INTERVAL", 30*time.Second),
			ConfirmTimeout:        getEnvAsDuration("CONFIRM_TIMEOUT", 2*time.Minute),
			ConfirmPollInterval:   getEnvAsDuration("CONFIRM_POLL_INTERVAL", 3*time.Second),
			StaleSweepAfter:       getEnvAsDuration("SWEEP_STALE_AFTER", 10*time.Minute),
			PoolTTL:               getEnvAsDuration("POOL_TTL", 24*time.Hour),
			PoolMaxShares:         getEnvAsInt("POOL_MAX_SHARES", 100),
		},
		Security: SecurityConfig{
			KeyEncryptionKey: getEnv("KEY_ENCRYPTION_KEY", "0000000000000000000000000000000000000000000000000000000000000000"), // 32-bytes hex string
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
