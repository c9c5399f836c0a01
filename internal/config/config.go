package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Public Stellar testnet fallbacks used when nothing is configured.
const (
	DefaultContractID        = "CBF27HVYQFOUSNBCA5I4ZZHKJ536WGMD7OYYTFU7FVIFJ3FC6TKEERRQ"
	DefaultNetworkPassphrase = "Test SDF Network ; September 2015"
	DefaultRPCURL            = "https://soroban-testnet.stellar.org"
	DefaultHorizonURL        = "https://horizon-testnet.stellar.org"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `json:"server"`
	Database     DatabaseConfig     `json:"database"`
	Stellar      StellarConfig      `json:"stellar"`
	Storage      StorageConfig      `json:"storage"`
	Wallet       WalletConfig       `json:"wallet"`
	AWS          AWSConfig          `json:"aws"`
	Confirmation ConfirmationConfig `json:"confirmation"`
	Exports      ExportsConfig      `json:"exports"`
	Security     SecurityConfig     `json:"security"`
	Logging      LoggingConfig      `json:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	User           string        `json:"user"`
	Password       string        `json:"password"`
	DBName         string        `json:"db_name"`
	SSLMode        string        `json:"ssl_mode"`
	MaxConnections int           `json:"max_connections"`
	MaxIdleConns   int           `json:"max_idle_conns"`
	MaxLifetime    time.Duration `json:"max_lifetime"`
}

// StellarConfig holds the network the marketplace pays on.
type StellarConfig struct {
	ContractID        string `json:"contract_id"`
	NetworkPassphrase string `json:"network_passphrase"`
	RPCURL            string `json:"rpc_url"`
	HorizonURL        string `json:"horizon_url"`
}

// StorageConfig selects where credit and transaction snapshots live.
type StorageConfig struct {
	Backend string `json:"backend"` // "file", "postgres" or "memory"
	Dir     string `json:"dir"`
	Archive bool   `json:"archive"` // mirror transactions into Postgres
}

// WalletConfig selects the signer behind the wallet adapter.
type WalletConfig struct {
	Extension        string `json:"extension"` // "bridge" or "keystore"
	KeystorePath     string `json:"keystore_path"`
	KeystorePassword string `json:"-"`
}

// AWSConfig enables certificate uploads and event publishing.
type AWSConfig struct {
	Region            string `json:"region"`
	CertificateBucket string `json:"certificate_bucket"`
	EventsTopicARN    string `json:"events_topic_arn"`
}

// ConfirmationConfig controls ledger confirmation polling.
type ConfirmationConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"`
}

// ExportsConfig controls the scheduled history export.
type ExportsConfig struct {
	Enabled  bool     `json:"enabled"`
	Schedule string   `json:"schedule"` // six fields, seconds first
	Formats  []string `json:"formats"`
	Bucket   string   `json:"bucket"`
}

// SecurityConfig
type SecurityConfig struct {
	JWTSecret         string `json:"jwt_secret"`
	AdminPasswordHash string `json:"admin_password_hash"`
}

// LoggingConfig
type LoggingConfig struct {
	Level string `json:"level"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			User:           os.Getenv("USER"),
			DBName:         "carbonx_marketplace",
			SSLMode:        "disable",
			MaxConnections: 25,
			MaxIdleConns:   5,
		},
		Stellar: StellarConfig{
			ContractID:        DefaultContractID,
			NetworkPassphrase: DefaultNetworkPassphrase,
			RPCURL:            DefaultRPCURL,
			HorizonURL:        DefaultHorizonURL,
		},
		Storage: StorageConfig{
			Backend: "file",
			Dir:     "data",
		},
		Wallet: WalletConfig{
			Extension: "bridge",
		},
		Confirmation: ConfirmationConfig{
			Enabled:  true,
			Schedule: "@every 15s",
		},
		Exports: ExportsConfig{
			Schedule: "0 0 0 * * *",
			Formats:  []string{"csv", "xlsx"},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from file and environment variables.
// A missing file is not an error; a malformed one is.
func LoadConfig(configPath string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	config := Default()

	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	overrideWithEnv(config)
	fillStellarFallbacks(&config.Stellar)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func overrideWithEnv(config *Config) {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if dbHost := os.Getenv("DATABASE_HOST"); dbHost != "" {
		config.Database.Host = dbHost
	}
	if dbUser := os.Getenv("DATABASE_USER"); dbUser != "" {
		config.Database.User = dbUser
	}
	if dbPass := os.Getenv("DATABASE_PASSWORD"); dbPass != "" {
		config.Database.Password = dbPass
	}
	if dbName := os.Getenv("DATABASE_DBNAME"); dbName != "" {
		config.Database.DBName = dbName
	}

	if v := os.Getenv("CONTRACT_ID"); v != "" {
		config.Stellar.ContractID = v
	}
	if v := os.Getenv("NETWORK_PASSPHRASE"); v != "" {
		config.Stellar.NetworkPassphrase = v
	}
	if v := os.Getenv("RPC_URL"); v != "" {
		config.Stellar.RPCURL = v
	}
	if v := os.Getenv("HORIZON_URL"); v != "" {
		config.Stellar.HorizonURL = v
	}

	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		config.Storage.Backend = v
	}
	if v := os.Getenv("STORAGE_DIR"); v != "" {
		config.Storage.Dir = v
	}

	if v := os.Getenv("WALLET_EXTENSION"); v != "" {
		config.Wallet.Extension = v
	}
	if v := os.Getenv("WALLET_KEYSTORE_PATH"); v != "" {
		config.Wallet.KeystorePath = v
	}
	config.Wallet.KeystorePassword = os.Getenv("WALLET_KEYSTORE_PASSWORD")

	if v := os.Getenv("AWS_REGION"); v != "" {
		config.AWS.Region = v
	}
	if v := os.Getenv("CERTIFICATE_BUCKET"); v != "" {
		config.AWS.CertificateBucket = v
	}
	if v := os.Getenv("EVENTS_TOPIC_ARN"); v != "" {
		config.AWS.EventsTopicARN = v
	}

	if v := os.Getenv("EXPORT_SCHEDULE"); v != "" {
		config.Exports.Enabled = true
		config.Exports.Schedule = v
	}
	if v := os.Getenv("EXPORT_BUCKET"); v != "" {
		config.Exports.Bucket = v
	}

	if v := os.Getenv("JWT_SECRET"); v != "" {
		config.Security.JWTSecret = v
	}
	if v := os.Getenv("ADMIN_PASSWORD_HASH"); v != "" {
		config.Security.AdminPasswordHash = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}

func fillStellarFallbacks(s *StellarConfig) {
	if s.ContractID == "" {
		s.ContractID = DefaultContractID
	}
	if s.NetworkPassphrase == "" {
		s.NetworkPassphrase = DefaultNetworkPassphrase
	}
	if s.RPCURL == "" {
		s.RPCURL = DefaultRPCURL
	}
	if s.HorizonURL == "" {
		s.HorizonURL = DefaultHorizonURL
	}
}

// Validate rejects combinations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "file":
		if c.Storage.Dir == "" {
			return fmt.Errorf("storage.dir is required for the file backend")
		}
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	switch c.Wallet.Extension {
	case "bridge":
	case "keystore":
		if c.Wallet.KeystorePath == "" {
			return fmt.Errorf("wallet.keystore_path is required for the keystore extension")
		}
	default:
		return fmt.Errorf("unknown wallet extension %q", c.Wallet.Extension)
	}

	return nil
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
