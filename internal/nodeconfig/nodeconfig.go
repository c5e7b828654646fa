// Package nodeconfig loads node configuration from a YAML file with
// environment-variable overrides, plus the quorum-set document consensus
// runs against.
package nodeconfig

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/botho-project/botho/internal/types"
)

// Config is the full node configuration. Zero values are filled in by
// defaults; the BOTHO_* environment variables override the
// file after decode.
type Config struct {
	LedgerPath     string   `yaml:"ledger_path"`
	WalletPath     string   `yaml:"wallet_path"`
	IdentityPath   string   `yaml:"identity_path"`
	QuorumPath     string   `yaml:"quorum_path"`
	RPCAddr        string   `yaml:"rpc_addr"`
	GossipPort     int      `yaml:"gossip_port"`
	BootstrapPeers []string `yaml:"bootstrap_peers"`

	Mempool struct {
		MaxBytes int `yaml:"max_bytes"`
		MaxCount int `yaml:"max_count"`
	} `yaml:"mempool"`

	Consensus struct {
		TargetBlockInterval time.Duration `yaml:"target_block_interval"`
		TimerBase           time.Duration `yaml:"timer_base"`
		EpochBlocks         uint64        `yaml:"epoch_blocks"`
		InitialDifficulty   uint64        `yaml:"initial_difficulty"`
	} `yaml:"consensus"`

	Minter struct {
		Workers int `yaml:"workers"`
	} `yaml:"minter"`
}

func defaults(cfg *Config) {
	if cfg.LedgerPath == "" {
		cfg.LedgerPath = "./data/ledger"
	}
	if cfg.WalletPath == "" {
		cfg.WalletPath = "./data/wallet.json"
	}
	if cfg.IdentityPath == "" {
		cfg.IdentityPath = "./data/identity.json"
	}
	if cfg.QuorumPath == "" {
		cfg.QuorumPath = "./data/quorum.yaml"
	}
	if cfg.RPCAddr == "" {
		cfg.RPCAddr = "127.0.0.1:9334"
	}
	if cfg.GossipPort == 0 {
		cfg.GossipPort = 9333
	}
	if cfg.Mempool.MaxBytes == 0 {
		cfg.Mempool.MaxBytes = 64 * 1024 * 1024
	}
	if cfg.Mempool.MaxCount == 0 {
		cfg.Mempool.MaxCount = 50_000
	}
	if cfg.Consensus.TargetBlockInterval == 0 {
		cfg.Consensus.TargetBlockInterval = 20 * time.Second
	}
	if cfg.Consensus.TimerBase == 0 {
		cfg.Consensus.TimerBase = 2 * time.Second
	}
	if cfg.Consensus.EpochBlocks == 0 {
		cfg.Consensus.EpochBlocks = 1000
	}
	if cfg.Consensus.InitialDifficulty == 0 {
		cfg.Consensus.InitialDifficulty = 0x0000_FFFF_FFFF_FFFF
	}
	if cfg.Minter.Workers == 0 {
		cfg.Minter.Workers = 4
	}
}

// Load reads a YAML config file, fills defaults, and applies environment
// overrides. A missing file yields the pure default configuration.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("nodeconfig: parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults only.
	default:
		return nil, fmt.Errorf("nodeconfig: read %s: %w", path, err)
	}

	applyEnv(cfg)
	defaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("BOTHO_LEDGER_PATH"); v != "" {
		cfg.LedgerPath = v
	}
	if v := os.Getenv("BOTHO_BOOTSTRAP_PEERS"); v != "" {
		cfg.BootstrapPeers = strings.Split(v, ",")
	}
	if v := os.Getenv("BOTHO_QUORUM_CONFIG"); v != "" {
		cfg.QuorumPath = v
	}
	if v := os.Getenv("BOTHO_RPC_ADDR"); v != "" {
		cfg.RPCAddr = v
	}
	if v := os.Getenv("BOTHO_GOSSIP_ADDR"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			cfg.GossipPort = port
		}
	}
}

// Save writes the configuration back to a YAML file, used by `init`.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// quorumSetDoc is the YAML shape of a quorum set: hex validator identities
// and one level of nested inner sets.
type quorumSetDoc struct {
	Threshold  int            `yaml:"threshold"`
	Validators []string       `yaml:"validators"`
	InnerSets  []quorumSetDoc `yaml:"inner_sets"`
}

func (d quorumSetDoc) toQuorumSet() (types.QuorumSet, error) {
	qs := types.QuorumSet{Threshold: d.Threshold}
	for _, v := range d.Validators {
		raw, err := hex.DecodeString(v)
		if err != nil || len(raw) != 32 {
			return types.QuorumSet{}, fmt.Errorf("nodeconfig: bad validator identity %q", v)
		}
		var pk types.PublicKey
		copy(pk[:], raw)
		qs.Validators = append(qs.Validators, pk)
	}
	for _, inner := range d.InnerSets {
		iq, err := inner.toQuorumSet()
		if err != nil {
			return types.QuorumSet{}, err
		}
		qs.InnerSets = append(qs.InnerSets, iq)
	}
	return qs, nil
}

// LoadQuorumSet reads and validates the quorum-set YAML document.
func LoadQuorumSet(path string) (types.QuorumSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.QuorumSet{}, fmt.Errorf("nodeconfig: read quorum config: %w", err)
	}
	var doc quorumSetDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return types.QuorumSet{}, fmt.Errorf("nodeconfig: parse quorum config: %w", err)
	}
	qs, err := doc.toQuorumSet()
	if err != nil {
		return types.QuorumSet{}, err
	}
	if !qs.Valid() {
		return types.QuorumSet{}, fmt.Errorf("nodeconfig: quorum set threshold exceeds member count")
	}
	return qs, nil
}

// SaveQuorumSet writes a quorum set as YAML, used by `init` to seed a
// single-validator development quorum.
func SaveQuorumSet(path string, qs types.QuorumSet) error {
	doc := fromQuorumSet(qs)
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func fromQuorumSet(qs types.QuorumSet) quorumSetDoc {
	doc := quorumSetDoc{Threshold: qs.Threshold}
	for _, v := range qs.Validators {
		doc.Validators = append(doc.Validators, hex.EncodeToString(v[:]))
	}
	for _, inner := range qs.InnerSets {
		doc.InnerSets = append(doc.InnerSets, fromQuorumSet(inner))
	}
	return doc
}
