package node

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"github.com/shanmukanaks/protocol/consensus"
	"github.com/shanmukanaks/protocol/exchange"
)

type Config struct {
	Network     string            `yaml:"network"`
	DataDir     string            `yaml:"data_dir"`
	LogLevel    string            `yaml:"log_level"`
	LogFormat   string            `yaml:"log_format"`
	API         APIConfig         `yaml:"api"`
	NATS        NATSConfig        `yaml:"nats"`
	Indexer     IndexerConfig     `yaml:"indexer"`
	Exchange    ExchangeConfig    `yaml:"exchange"`
	LightClient LightClientConfig `yaml:"light_client"`
}

type APIConfig struct {
	BindAddr string `yaml:"bind_addr"`
}

// NATSConfig enables the change-notification publisher when URL is set.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// IndexerConfig enables the postgres snapshot indexer when DSN is set.
type IndexerConfig struct {
	DSN string `yaml:"dsn"`
}

type ExchangeConfig struct {
	Params          consensus.Params `yaml:"params"`
	VerificationKey string           `yaml:"verification_key"`
	// Verifier selects the proof backend: "mock" or "digest".
	Verifier    string `yaml:"verifier"`
	Address     string `yaml:"exchange_address"`
	FeeRouter   string `yaml:"fee_router"`
	TokenSymbol string `yaml:"token_symbol"`
}

// LightClientConfig pins the checkpoint the header chain starts from. An
// empty checkpoint header means the network's genesis block.
type LightClientConfig struct {
	BitcoinNetwork      string        `yaml:"bitcoin_network"`
	CheckpointHeader    string        `yaml:"checkpoint_header"`
	CheckpointHash      string        `yaml:"checkpoint_hash"`
	CheckpointHeight    uint32        `yaml:"checkpoint_height"`
	CheckpointChainwork string        `yaml:"checkpoint_chainwork"`
	WatchtowerInterval  time.Duration `yaml:"watchtower_interval"`
}

var allowedLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

var allowedLogFormats = map[string]struct{}{
	"text": {},
	"json": {},
}

var bitcoinNetworks = map[string]*chaincfg.Params{
	"mainnet": &chaincfg.MainNetParams,
	"testnet": &chaincfg.TestNet3Params,
	"signet":  &chaincfg.SigNetParams,
	"regtest": &chaincfg.RegressionNetParams,
}

func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".swapledger"
	}
	return filepath.Join(home, ".swapledger")
}

func DefaultConfig() Config {
	return Config{
		Network:   "devnet",
		DataDir:   DefaultDataDir(),
		LogLevel:  "info",
		LogFormat: "text",
		API:       APIConfig{BindAddr: "127.0.0.1:8645"},
		NATS:      NATSConfig{SubjectPrefix: "exchange"},
		Exchange: ExchangeConfig{
			Params:          consensus.DefaultParams(),
			VerificationKey: "0x" + strings.Repeat("00", 32),
			Verifier:        "mock",
			Address:         "0x000000000000000000000000000000000000e8c4",
			FeeRouter:       "0x000000000000000000000000000000000000fee0",
			TokenSymbol:     "cbBTC",
		},
		LightClient: LightClientConfig{
			BitcoinNetwork:     "regtest",
			WatchtowerInterval: 30 * time.Second,
		},
	}
}

// LoadConfig reads a YAML file over the defaults and applies EXCHANGE_*
// environment overrides. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := readConfigFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	overrideFromEnv(&cfg)
	return cfg, nil
}

const maxConfigFileSize = 1 << 20

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !st.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	raw, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, err
	}
	if len(raw) > maxConfigFileSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", path, maxConfigFileSize)
	}
	return raw, nil
}

func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("EXCHANGE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("EXCHANGE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("EXCHANGE_API_BIND"); v != "" {
		cfg.API.BindAddr = v
	}
	if v := os.Getenv("EXCHANGE_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("EXCHANGE_INDEXER_DSN"); v != "" {
		cfg.Indexer.DSN = v
	}
}

// Marshal renders cfg as YAML.
func (cfg Config) Marshal() ([]byte, error) {
	return yaml.Marshal(cfg)
}

func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Network) == "" {
		return errors.New("network is required")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	if err := validateAddr(cfg.API.BindAddr); err != nil {
		return fmt.Errorf("invalid api.bind_addr: %w", err)
	}
	logLevel := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if _, ok := allowedLogLevels[logLevel]; !ok {
		return fmt.Errorf("invalid log_level %q", cfg.LogLevel)
	}
	if _, ok := allowedLogFormats[strings.ToLower(cfg.LogFormat)]; !ok {
		return fmt.Errorf("invalid log_format %q", cfg.LogFormat)
	}
	if err := cfg.Exchange.Params.Validate(); err != nil {
		return fmt.Errorf("invalid exchange.params: %w", err)
	}
	if _, err := cfg.Exchange.Exchange(); err != nil {
		return err
	}
	switch cfg.Exchange.Verifier {
	case "mock", "digest":
	default:
		return fmt.Errorf("invalid exchange.verifier %q", cfg.Exchange.Verifier)
	}
	if strings.TrimSpace(cfg.Exchange.TokenSymbol) == "" {
		return errors.New("exchange.token_symbol is required")
	}
	if cfg.NATS.URL != "" && strings.TrimSpace(cfg.NATS.SubjectPrefix) == "" {
		return errors.New("nats.subject_prefix is required when nats.url is set")
	}
	if cfg.LightClient.WatchtowerInterval <= 0 {
		return errors.New("light_client.watchtower_interval must be > 0")
	}
	if _, _, _, err := cfg.LightClient.Checkpoint(); err != nil {
		return err
	}
	return nil
}

// ChainIDHex names the on-disk chain directory for the exchange's chain id.
func (cfg Config) ChainIDHex() string {
	return fmt.Sprintf("%064x", cfg.Exchange.Params.ChainID)
}

// Exchange converts the section into the exchange's typed config.
func (c ExchangeConfig) Exchange() (exchange.Config, error) {
	vkey, err := hex.DecodeString(strings.TrimPrefix(c.VerificationKey, "0x"))
	if err != nil || len(vkey) != 32 {
		return exchange.Config{}, fmt.Errorf("invalid exchange.verification_key %q", c.VerificationKey)
	}
	if !common.IsHexAddress(c.Address) {
		return exchange.Config{}, fmt.Errorf("invalid exchange.exchange_address %q", c.Address)
	}
	if !common.IsHexAddress(c.FeeRouter) {
		return exchange.Config{}, fmt.Errorf("invalid exchange.fee_router %q", c.FeeRouter)
	}
	return exchange.Config{
		Params:          c.Params,
		VerificationKey: [32]byte(vkey),
		Address:         common.HexToAddress(c.Address),
		FeeRouter:       common.HexToAddress(c.FeeRouter),
	}, nil
}

// Checkpoint resolves the chain parameters, the checkpoint header and its
// block leaf.
func (c LightClientConfig) Checkpoint() (*chaincfg.Params, wire.BlockHeader, consensus.BlockLeaf, error) {
	params, ok := bitcoinNetworks[c.BitcoinNetwork]
	if !ok {
		return nil, wire.BlockHeader{}, consensus.BlockLeaf{}, fmt.Errorf("invalid light_client.bitcoin_network %q", c.BitcoinNetwork)
	}
	header := params.GenesisBlock.Header
	height := c.CheckpointHeight
	if c.CheckpointHeader != "" {
		raw, err := hex.DecodeString(c.CheckpointHeader)
		if err != nil || len(raw) != wire.MaxBlockHeaderPayload {
			return nil, wire.BlockHeader{}, consensus.BlockLeaf{}, errors.New("invalid light_client.checkpoint_header: want 80 hex-encoded bytes")
		}
		if err := header.Deserialize(bytes.NewReader(raw)); err != nil {
			return nil, wire.BlockHeader{}, consensus.BlockLeaf{}, fmt.Errorf("invalid light_client.checkpoint_header: %w", err)
		}
	} else if height != 0 {
		return nil, wire.BlockHeader{}, consensus.BlockLeaf{}, errors.New("light_client.checkpoint_height requires checkpoint_header")
	}
	hash := header.BlockHash()
	if c.CheckpointHash != "" {
		want, err := chainhash.NewHashFromStr(c.CheckpointHash)
		if err != nil {
			return nil, wire.BlockHeader{}, consensus.BlockLeaf{}, fmt.Errorf("invalid light_client.checkpoint_hash: %w", err)
		}
		if !want.IsEqual(&hash) {
			return nil, wire.BlockHeader{}, consensus.BlockLeaf{}, fmt.Errorf("checkpoint header hashes to %s, config says %s", hash, want)
		}
	}

	var work uint256.Int
	if c.CheckpointChainwork != "" {
		if err := work.SetFromDecimal(c.CheckpointChainwork); err != nil {
			return nil, wire.BlockHeader{}, consensus.BlockLeaf{}, fmt.Errorf("invalid light_client.checkpoint_chainwork: %w", err)
		}
	} else {
		if height != 0 {
			return nil, wire.BlockHeader{}, consensus.BlockLeaf{}, errors.New("light_client.checkpoint_chainwork is required above genesis")
		}
		w, overflow := uint256.FromBig(blockchain.CalcWork(header.Bits))
		if overflow {
			return nil, wire.BlockHeader{}, consensus.BlockLeaf{}, errors.New("checkpoint work overflows 256 bits")
		}
		work = *w
	}
	return params, header, consensus.BlockLeaf{BlockHash: hash, Height: height, CumulativeChainwork: work}, nil
}

func validateAddr(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("empty address")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if strings.TrimSpace(port) == "" {
		return errors.New("missing port")
	}
	if strings.Contains(host, " ") {
		return errors.New("invalid host")
	}
	return nil
}
