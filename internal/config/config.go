package config

import (
	"encoding/json"
	"fmt"
	"github.com/RyanW02/eventstamp/pkg/network"
	"github.com/caarlos0/env/v10"
	"os"
	"strings"
)

type (
	Config struct {
		Production bool      `json:"production" env:"PRODUCTION" envDefault:"false"`
		PrettyLogs bool      `json:"pretty_logs" env:"PRETTY_LOGS" envDefault:"false"`
		LogLevel   string    `json:"log_level" env:"LOG_LEVEL" envDefault:"info"`
		Server     Server    `json:"server" envPrefix:"SERVER_"`
		Network    Network   `json:"network" envPrefix:"NETWORK_"`
		Wallet     Wallet    `json:"wallet" envPrefix:"WALLET_"`
		MongoDB    MongoDB   `json:"mongodb" envPrefix:"MONGODB_"`
		LevelDB    LevelDB   `json:"leveldb" envPrefix:"LEVELDB_"`
		Signing    Signing   `json:"signing" envPrefix:"SIGNING_"`
		Fees       Fees      `json:"fees" envPrefix:"FEES_"`
		Retrieval  Retrieval `json:"retrieval" envPrefix:"RETRIEVAL_"`
	}

	Server struct {
		Address        string             `json:"address" env:"ADDRESS" envDefault:":3000"`
		RequestTimeout MarshalledDuration `json:"request_timeout" env:"REQUEST_TIMEOUT" envDefault:"30s"`
		MetricsEnabled bool               `json:"metrics_enabled" env:"METRICS_ENABLED" envDefault:"true"`
	}

	Network struct {
		Chain         string   `json:"chain" env:"CHAIN" envDefault:"testnet3"`
		NodeAddresses []string `json:"node_addresses" env:"NODE_ADDRESSES" envSeparator:","`
		RPCUser       string   `json:"rpc_user" env:"RPC_USER"`
		RPCPassword   string   `json:"rpc_password" env:"RPC_PASSWORD"`
		DisableTLS    bool     `json:"disable_tls" env:"DISABLE_TLS" envDefault:"true"`
		MinimumNodes  int      `json:"minimum_nodes" env:"MINIMUM_NODES" envDefault:"1"`
	}

	Wallet struct {
		Backend            WalletBackend      `json:"backend" env:"BACKEND" envDefault:"memory"`
		FetchLimit         int                `json:"fetch_limit" env:"FETCH_LIMIT" envDefault:"25"`
		ReserveBatch       int                `json:"reserve_batch" env:"RESERVE_BATCH" envDefault:"2"`
		ReservationTimeout MarshalledDuration `json:"reservation_timeout" env:"RESERVATION_TIMEOUT" envDefault:"5m"`
		SweepInterval      MarshalledDuration `json:"sweep_interval" env:"SWEEP_INTERVAL" envDefault:"1m"`
		SweepTimeout       MarshalledDuration `json:"sweep_timeout" env:"SWEEP_TIMEOUT" envDefault:"30s"`
		SweepAtStartup     bool               `json:"sweep_at_startup" env:"SWEEP_AT_STARTUP" envDefault:"true"`
	}

	WalletBackend string

	MongoDB struct {
		URI          string `json:"uri" env:"URI"`
		DatabaseName string `json:"database_name" env:"DATABASE_NAME" envDefault:"eventstamp"`
	}

	LevelDB struct {
		Path string `json:"path" env:"PATH" envDefault:"wallet.db"`
	}

	Signing struct {
		PrivateKeyWIF string `json:"private_key_wif" env:"PRIVATE_KEY_WIF"`
	}

	Fees struct {
		CommitmentAmount int64 `json:"commitment_amount" env:"COMMITMENT_AMOUNT" envDefault:"546"`
		FeeRate          int64 `json:"fee_rate" env:"FEE_RATE" envDefault:"1000"`
		DustThreshold    int64 `json:"dust_threshold" env:"DUST_THRESHOLD" envDefault:"546"`
	}

	Retrieval struct {
		Limit int `json:"limit" env:"LIMIT" envDefault:"100"`
	}
)

const (
	WalletBackendMemory  WalletBackend = "memory"
	WalletBackendLevelDB WalletBackend = "leveldb"
	WalletBackendMongoDB WalletBackend = "mongodb"
)

const fileName = "config.json"

func Load() (Config, error) {
	return load(fileName)
}

func load(path string) (Config, error) {
	var conf Config

	// Try to load JSON config file, but fallback to environment variables if it does not exist
	if _, err := os.Stat(path); err == nil {
		bytes, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}

		// Populate defaults only, then let the file override them
		if err := env.ParseWithOptions(&conf, env.Options{Environment: map[string]string{}}); err != nil {
			return Config{}, err
		}

		if err := json.Unmarshal(bytes, &conf); err != nil {
			return Config{}, err
		}
	} else if err := env.Parse(&conf); err != nil {
		return Config{}, err
	}

	conf.Wallet.Backend = conf.Wallet.Backend.ConvertCase()

	if err := conf.Validate(); err != nil {
		return Config{}, err
	}

	return conf, nil
}

func (c Config) Validate() error {
	switch c.Wallet.Backend {
	case WalletBackendMemory, WalletBackendLevelDB:
	case WalletBackendMongoDB:
		if c.MongoDB.URI == "" {
			return fmt.Errorf("mongodb wallet backend requires MONGODB_URI")
		}
	default:
		return fmt.Errorf("unknown wallet backend %q", c.Wallet.Backend)
	}

	if c.Signing.PrivateKeyWIF == "" {
		return fmt.Errorf("signing private key is required")
	}

	params, err := network.ParamsForChain(c.Network.Chain)
	if err != nil {
		return err
	}

	// Commitment outputs are bare scripts, which nodes on these chains refuse to relay by default
	if !params.RelayNonStdTxs {
		return fmt.Errorf("chain %s does not relay non-standard outputs, commitments cannot be broadcast", params.Name)
	}

	// A reservation must outlive the request holding it, or the sweeper can hand its outputs to another request
	reservationTimeout := c.Wallet.ReservationTimeout.Duration()
	requestTimeout := c.Server.RequestTimeout.Duration()
	if reservationTimeout <= 0 {
		return fmt.Errorf("wallet reservation timeout must be positive")
	}

	if requestTimeout <= 0 || requestTimeout >= reservationTimeout {
		return fmt.Errorf(
			"server request timeout (%s) must be positive and shorter than the wallet reservation timeout (%s)",
			requestTimeout, reservationTimeout,
		)
	}

	if c.Network.MinimumNodes > len(c.Network.NodeAddresses) {
		return fmt.Errorf(
			"%d node addresses configured, but at least %d are required",
			len(c.Network.NodeAddresses), c.Network.MinimumNodes,
		)
	}

	return nil
}

func (b WalletBackend) ConvertCase() WalletBackend {
	return WalletBackend(strings.ToLower(b.String()))
}

func (b WalletBackend) String() string {
	return string(b)
}
