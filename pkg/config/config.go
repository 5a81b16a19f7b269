// Package config defines the runtime configuration for an agent node,
// including ports, identity keys, AI dispatcher limits, settlement-chain
// endpoints, debug mode, and operation timeouts. It also provides
// validation and defaulting helpers.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Validate.
const (
	DefaultHTTPPort          = 3000
	DefaultBTPPort           = 3001
	DefaultExplorerPort      = 3002
	DefaultDatabasePath      = "agent-events.db"
	DefaultExplorerDBPath    = "agent-telemetry.db"
	DefaultAIModel           = "claude-sonnet-4-5"
	DefaultMaxTokensPerReq   = 4096
	DefaultMaxTokensPerHour  = 100000
	DefaultSettleThreshold   = 1000
	DefaultPeerRatePerSecond = 20
	DefaultPeerRateBurst     = 40
	DefaultXRPLNetwork       = "standalone"
	DefaultAddressPrefix     = "g.agent"
)

// Config holds every runtime setting of one agent node. Use Validate to fill
// implicit defaults and to check for required fields.
type Config struct {
	// AgentID names this node; it also forms the routing address tail.
	AgentID string `json:"agent_id" yaml:"agent_id"`
	// PubKey and PrivKey are the hex event-signing keypair. PrivKey is
	// required; PubKey is derived from it at boot when empty.
	PubKey  string `json:"pubkey" yaml:"pubkey"`
	PrivKey string `json:"privkey" yaml:"privkey"`
	// Address is the dotted routing address; default g.agent.<AgentID>.
	Address string `json:"address" yaml:"address"`

	HTTPPort     int `json:"http_port" yaml:"http_port"`
	BTPPort      int `json:"btp_port" yaml:"btp_port"`
	ExplorerPort int `json:"explorer_port" yaml:"explorer_port"`

	DatabasePath   string `json:"database_path" yaml:"database_path"`
	ExplorerDBPath string `json:"explorer_db_path" yaml:"explorer_db_path"`

	AI      AIConfig      `json:"ai" yaml:"ai"`
	EVM     EVMConfig     `json:"evm" yaml:"evm"`
	XRP     XRPConfig     `json:"xrp" yaml:"xrp"`
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// SettleThreshold is the per-peer accumulated amount that triggers a
	// settlement suggestion.
	SettleThreshold int64 `json:"settle_threshold" yaml:"settle_threshold"`
	// PeerRatePerSecond and PeerRateBurst bound inbound packets per peer.
	PeerRatePerSecond float64 `json:"peer_rate_per_second" yaml:"peer_rate_per_second"`
	PeerRateBurst     int     `json:"peer_rate_burst" yaml:"peer_rate_burst"`

	// Debug enables verbose logging.
	Debug bool `json:"debug" yaml:"debug"`
	// Timeouts configures per-operation deadlines. See Timeouts.WithDefaults.
	Timeouts Timeouts `json:"timeouts" yaml:"timeouts"`
}

// AIConfig controls the AI dispatcher.
type AIConfig struct {
	Enabled              bool   `json:"enabled" yaml:"enabled"`
	Model                string `json:"model" yaml:"model"`
	APIKey               string `json:"api_key" yaml:"api_key"`
	BaseURL              string `json:"base_url" yaml:"base_url"`
	MaxTokensPerRequest  int64  `json:"max_tokens_per_request" yaml:"max_tokens_per_request"`
	MaxTokensPerHour     int64  `json:"max_tokens_per_hour" yaml:"max_tokens_per_hour"`
	FallbackOnExhaustion bool   `json:"fallback_on_exhaustion" yaml:"fallback_on_exhaustion"`
}

// EVMConfig points at the settlement chain.
type EVMConfig struct {
	RPCAddr      string `json:"rpc_addr" yaml:"rpc_addr"`
	TokenNetwork string `json:"token_network" yaml:"token_network"`
	Token        string `json:"token" yaml:"token"`
	// PrivateKey is the hex settlement key; defaults to the agent PrivKey.
	PrivateKey string `json:"private_key" yaml:"private_key"`
}

// XRPConfig points at the ledger host.
type XRPConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	WSSURL  string `json:"wss_url" yaml:"wss_url"`
	// Network is "standalone" (explicit ledger advance after submit) or
	// "live" (submit and wait).
	Network string `json:"network" yaml:"network"`
	Secret  string `json:"secret" yaml:"secret"`
	Account string `json:"account" yaml:"account"`
}

// StorageConfig points at the IPFS node and gateway used for job inputs and
// oversized results. Both empty disables the storage client.
type StorageConfig struct {
	IPFSAPIURL     string `json:"ipfs_api_url" yaml:"ipfs_api_url"`
	IPFSGatewayURL string `json:"ipfs_gateway_url" yaml:"ipfs_gateway_url"`
}

// Timeouts controls per-operation deadlines. Zero values are replaced by
// WithDefaults.
type Timeouts struct {
	Dial        time.Duration `json:"dial" yaml:"dial"`
	Model       time.Duration `json:"model" yaml:"model"`
	ChainRead   time.Duration `json:"chain_read" yaml:"chain_read"`
	ChainSubmit time.Duration `json:"chain_submit" yaml:"chain_submit"`
	ReceiptWait time.Duration `json:"receipt_wait" yaml:"receipt_wait"`
	LedgerCall  time.Duration `json:"ledger_call" yaml:"ledger_call"`
	PacketSweep time.Duration `json:"packet_sweep" yaml:"packet_sweep"`
}

// WithDefaults returns a copy of t with zero values replaced by defaults:
//
//	Dial:        5s
//	Model:       10s
//	ChainRead:   12s
//	ChainSubmit: 25s
//	ReceiptWait: 30s
//	LedgerCall:  15s
//	PacketSweep: 5s
func (t Timeouts) WithDefaults() Timeouts {
	tt := t
	if tt.Dial == 0 {
		tt.Dial = 5 * time.Second
	}
	if tt.Model == 0 {
		tt.Model = 10 * time.Second
	}
	if tt.ChainRead == 0 {
		tt.ChainRead = 12 * time.Second
	}
	if tt.ChainSubmit == 0 {
		tt.ChainSubmit = 25 * time.Second
	}
	if tt.ReceiptWait == 0 {
		tt.ReceiptWait = 30 * time.Second
	}
	if tt.LedgerCall == 0 {
		tt.LedgerCall = 15 * time.Second
	}
	if tt.PacketSweep == 0 {
		tt.PacketSweep = 5 * time.Second
	}
	return tt
}

// FromEnv builds a Config from the canonical environment variables. Values
// absent from the environment stay zero and are filled by Validate.
func FromEnv() (*Config, error) {
	c := &Config{
		AgentID:        os.Getenv("AGENT_ID"),
		PubKey:         os.Getenv("AGENT_PUBKEY"),
		PrivKey:        os.Getenv("AGENT_PRIVKEY"),
		DatabasePath:   os.Getenv("AGENT_DATABASE_PATH"),
		ExplorerDBPath: os.Getenv("AGENT_EXPLORER_DB_PATH"),
		AI: AIConfig{
			Enabled: envBool("AI_AGENT_ENABLED"),
			Model:   os.Getenv("AI_AGENT_MODEL"),
			APIKey:  os.Getenv("AI_API_KEY"),
		},
		EVM: EVMConfig{
			RPCAddr:      os.Getenv("ANVIL_RPC_URL"),
			TokenNetwork: os.Getenv("TOKEN_NETWORK_ADDRESS"),
			Token:        os.Getenv("AGENT_TOKEN_ADDRESS"),
		},
		XRP: XRPConfig{
			Enabled: envBool("XRP_ENABLED"),
			WSSURL:  os.Getenv("XRPL_WSS_URL"),
			Network: os.Getenv("XRPL_NETWORK"),
			Secret:  os.Getenv("XRPL_ACCOUNT_SECRET"),
			Account: os.Getenv("XRPL_ACCOUNT_ADDRESS"),
		},
		Storage: StorageConfig{
			IPFSAPIURL:     os.Getenv("IPFS_API_URL"),
			IPFSGatewayURL: os.Getenv("IPFS_GATEWAY_URL"),
		},
	}

	var err error
	if c.HTTPPort, err = envInt("AGENT_HTTP_PORT"); err != nil {
		return nil, err
	}
	if c.BTPPort, err = envInt("AGENT_BTP_PORT"); err != nil {
		return nil, err
	}
	if c.ExplorerPort, err = envInt("AGENT_EXPLORER_PORT"); err != nil {
		return nil, err
	}
	perReq, err := envInt("AI_MAX_TOKENS_PER_REQUEST")
	if err != nil {
		return nil, err
	}
	perHour, err := envInt("AI_MAX_TOKENS_PER_HOUR")
	if err != nil {
		return nil, err
	}
	c.AI.MaxTokensPerRequest = int64(perReq)
	c.AI.MaxTokensPerHour = int64(perHour)
	return c, nil
}

// LoadFile overlays a YAML document onto c. Fields present in the file win
// over environment-derived values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Validate fills implicit defaults and checks required fields. It is
// idempotent and mutates c in place.
func (c *Config) Validate() error {
	if c.AgentID == "" {
		return errors.New("config: agent id is required")
	}
	if c.PrivKey == "" {
		return errors.New("config: agent private key is required")
	}
	if c.Address == "" {
		c.Address = DefaultAddressPrefix + "." + c.AgentID
	}
	if c.HTTPPort == 0 {
		c.HTTPPort = DefaultHTTPPort
	}
	if c.BTPPort == 0 {
		c.BTPPort = DefaultBTPPort
	}
	if c.ExplorerPort == 0 {
		c.ExplorerPort = DefaultExplorerPort
	}
	if c.DatabasePath == "" {
		c.DatabasePath = DefaultDatabasePath
	}
	if c.ExplorerDBPath == "" {
		c.ExplorerDBPath = DefaultExplorerDBPath
	}
	if c.AI.Model == "" {
		c.AI.Model = DefaultAIModel
	}
	if c.AI.MaxTokensPerRequest == 0 {
		c.AI.MaxTokensPerRequest = DefaultMaxTokensPerReq
	}
	if c.AI.MaxTokensPerHour == 0 {
		c.AI.MaxTokensPerHour = DefaultMaxTokensPerHour
	}
	if c.AI.Enabled && c.AI.APIKey == "" {
		return errors.New("config: AI is enabled but no API key is set")
	}
	if c.EVM.PrivateKey == "" {
		c.EVM.PrivateKey = c.PrivKey
	}
	if c.SettleThreshold == 0 {
		c.SettleThreshold = DefaultSettleThreshold
	}
	if c.PeerRatePerSecond == 0 {
		c.PeerRatePerSecond = DefaultPeerRatePerSecond
	}
	if c.PeerRateBurst == 0 {
		c.PeerRateBurst = DefaultPeerRateBurst
	}
	if c.XRP.Network == "" {
		c.XRP.Network = DefaultXRPLNetwork
	}
	switch c.XRP.Network {
	case "standalone", "live":
	default:
		return fmt.Errorf("config: unknown XRPL network %q", c.XRP.Network)
	}
	if c.XRP.Enabled {
		if c.XRP.WSSURL == "" {
			return errors.New("config: XRP is enabled but no websocket URL is set")
		}
		if c.XRP.Secret == "" || c.XRP.Account == "" {
			return errors.New("config: XRP is enabled but account secret or address is missing")
		}
	}
	c.Timeouts = c.Timeouts.WithDefaults()
	return nil
}

func envBool(key string) bool {
	switch os.Getenv(key) {
	case "1", "true", "TRUE", "True", "yes", "on":
		return true
	}
	return false
}

func envInt(key string) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}
