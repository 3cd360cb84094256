// Package config builds the process-wide PoolerIdentity: the immutable
// configuration read once at startup from an optional TOML file layered
// under environment-variable overrides, mirroring the three-layer
// file-then-flag config loading the teacher's cmd/geth/config_rollup.go and
// cmd/utils/flags_rollup.go assemble from cli.Context + a TOML dump/load
// pair, generalized here to env vars instead of CLI flags as the top
// override layer (the Pooler runs as a long-lived service, not an
// interactively-flagged binary).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kale-pool/pooler/params"
)

// Identity is the process-wide immutable configuration, created once at
// startup and shared read-only thereafter.
type Identity struct {
	PoolerID  string `toml:"pooler_id"`
	AuthToken string `toml:"pooler_auth_token"`
	Port      int    `toml:"pooler_port"`

	RPCURL            string `toml:"rpc_url"`
	ContractID        string `toml:"contract_id"`
	NetworkPassphrase string `toml:"network_passphrase"`

	BackendAPIURL  string        `toml:"backend_api_url"`
	BackendTimeout time.Duration `toml:"-"`

	LaunchtubeURL string `toml:"launchtube_url"`
	LaunchtubeJWT string `toml:"launchtube_jwt"`

	FarmerBinPath string `toml:"farmer_bin_path"`

	PollInterval        time.Duration `toml:"-"`
	InitialCheckDelay   time.Duration `toml:"-"`
	MaxErrorCount       int           `toml:"max_error_count"`
	MaxMissedBlocks     int           `toml:"max_missed_blocks"`
	RetryAttempts       int           `toml:"retry_attempts"`

	ClientName    string `toml:"-"`
	ClientVersion string `toml:"-"`
}

// fileLayer is what an optional TOML config file may set; env vars always
// take precedence over it.
type fileLayer struct {
	PoolerID          string `toml:"pooler_id"`
	AuthToken         string `toml:"pooler_auth_token"`
	Port              int    `toml:"pooler_port"`
	RPCURL            string `toml:"rpc_url"`
	ContractID        string `toml:"contract_id"`
	NetworkPassphrase string `toml:"network_passphrase"`
	BackendAPIURL     string `toml:"backend_api_url"`
	BackendTimeoutMs  int    `toml:"backend_timeout_ms"`
	LaunchtubeURL     string `toml:"launchtube_url"`
	LaunchtubeJWT     string `toml:"launchtube_jwt"`
	FarmerBinPath     string `toml:"farmer_bin_path"`
	PollIntervalMs    int    `toml:"block_poll_interval_ms"`
	InitialDelayMs    int    `toml:"initial_block_check_delay_ms"`
	MaxErrorCount     int    `toml:"max_error_count"`
	MaxMissedBlocks   int    `toml:"max_missed_blocks"`
	RetryAttempts     int    `toml:"retry_attempts"`
}

// Load assembles an Identity: start from protocol defaults, layer an
// optional TOML file at tomlPath (ignored if empty or missing), then layer
// every documented environment variable on top.
func Load(tomlPath string) (*Identity, error) {
	id := &Identity{
		Port:              params.DefaultPoolerPort,
		PollInterval:      params.DefaultPollInterval,
		InitialCheckDelay: params.DefaultInitialDelay,
		MaxErrorCount:     params.DefaultMaxErrorCount,
		MaxMissedBlocks:   params.DefaultMaxMissedBlocks,
		RetryAttempts:     params.RelayRetryAttempts,
		BackendTimeout:    params.DefaultBackendTimeout,
		ClientName:        "kale-pooler",
		ClientVersion:     "1.0.0",
	}

	if tomlPath != "" {
		if _, err := os.Stat(tomlPath); err == nil {
			var layer fileLayer
			if _, err := toml.DecodeFile(tomlPath, &layer); err != nil {
				return nil, fmt.Errorf("decode config file %s: %w", tomlPath, err)
			}
			id.applyFileLayer(layer)
		}
	}

	id.applyEnv()

	if err := id.validate(); err != nil {
		return nil, err
	}
	return id, nil
}

func (id *Identity) applyFileLayer(f fileLayer) {
	if f.PoolerID != "" {
		id.PoolerID = f.PoolerID
	}
	if f.AuthToken != "" {
		id.AuthToken = f.AuthToken
	}
	if f.Port != 0 {
		id.Port = f.Port
	}
	if f.RPCURL != "" {
		id.RPCURL = f.RPCURL
	}
	if f.ContractID != "" {
		id.ContractID = f.ContractID
	}
	if f.NetworkPassphrase != "" {
		id.NetworkPassphrase = f.NetworkPassphrase
	}
	if f.BackendAPIURL != "" {
		id.BackendAPIURL = f.BackendAPIURL
	}
	if f.BackendTimeoutMs != 0 {
		id.BackendTimeout = time.Duration(f.BackendTimeoutMs) * time.Millisecond
	}
	if f.LaunchtubeURL != "" {
		id.LaunchtubeURL = f.LaunchtubeURL
	}
	if f.LaunchtubeJWT != "" {
		id.LaunchtubeJWT = f.LaunchtubeJWT
	}
	if f.FarmerBinPath != "" {
		id.FarmerBinPath = f.FarmerBinPath
	}
	if f.PollIntervalMs != 0 {
		id.PollInterval = time.Duration(f.PollIntervalMs) * time.Millisecond
	}
	if f.InitialDelayMs != 0 {
		id.InitialCheckDelay = time.Duration(f.InitialDelayMs) * time.Millisecond
	}
	if f.MaxErrorCount != 0 {
		id.MaxErrorCount = f.MaxErrorCount
	}
	if f.MaxMissedBlocks != 0 {
		id.MaxMissedBlocks = f.MaxMissedBlocks
	}
	if f.RetryAttempts != 0 {
		id.RetryAttempts = f.RetryAttempts
	}
}

func (id *Identity) applyEnv() {
	envString(&id.PoolerID, "POOLER_ID")
	envString(&id.AuthToken, "POOLER_AUTH_TOKEN")
	envInt(&id.Port, "POOLER_PORT")
	envString(&id.RPCURL, "RPC_URL")
	envString(&id.ContractID, "CONTRACT_ID")
	envString(&id.NetworkPassphrase, "NETWORK_PASSPHRASE")
	envString(&id.BackendAPIURL, "BACKEND_API_URL")
	envDurationMs(&id.BackendTimeout, "BACKEND_TIMEOUT")
	envString(&id.LaunchtubeURL, "LAUNCHTUBE_URL")
	envString(&id.LaunchtubeJWT, "LAUNCHTUBE_JWT")
	envString(&id.FarmerBinPath, "KALE_FARMER_BIN")
	envDurationMs(&id.PollInterval, "BLOCK_POLL_INTERVAL_MS")
	envDurationMs(&id.InitialCheckDelay, "INITIAL_BLOCK_CHECK_DELAY_MS")
	envInt(&id.MaxErrorCount, "MAX_ERROR_COUNT")
	envInt(&id.MaxMissedBlocks, "MAX_MISSED_BLOCKS")
	envInt(&id.RetryAttempts, "RETRY_ATTEMPTS")
}

func envString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDurationMs(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Millisecond
		}
	}
}

// validate enforces the mandatory fields a Pooler cannot start without.
func (id *Identity) validate() error {
	required := map[string]string{
		"POOLER_ID":         id.PoolerID,
		"POOLER_AUTH_TOKEN": id.AuthToken,
		"RPC_URL":           id.RPCURL,
		"CONTRACT_ID":       id.ContractID,
		"NETWORK_PASSPHRASE": id.NetworkPassphrase,
		"BACKEND_API_URL":   id.BackendAPIURL,
		"LAUNCHTUBE_URL":    id.LaunchtubeURL,
		"LAUNCHTUBE_JWT":    id.LaunchtubeJWT,
		"KALE_FARMER_BIN":   id.FarmerBinPath,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%w: missing %s", ErrConfig, name)
		}
	}
	return nil
}
