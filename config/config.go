package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"repcollateral/crypto"
	nativecommon "repcollateral/native/common"
	"repcollateral/native/lending"
)

const (
	defaultRPCAddress      = "127.0.0.1:8645"
	defaultDataDir         = "./rep-data"
	defaultRPCTokenEnv     = "REP_RPC_TOKEN"
	defaultPassphraseEnv   = "REP_OPERATOR_PASSPHRASE"
	defaultKeystoreName    = "operator.keystore"
	defaultServiceName     = "repd"
	defaultRateLimitPerMin = 600
	maxBasisPoints         = 10_000
)

// keystoreParams is swapped for the light scrypt cost in tests.
var keystoreParams = crypto.StandardKeystore

type Config struct {
	RPCAddress           string   `toml:"RPCAddress" yaml:"rpcAddress"`
	RPCAuthTokenEnv      string   `toml:"RPCAuthTokenEnv" yaml:"rpcAuthTokenEnv"`
	RPCRateLimitPerMin   float64  `toml:"RPCRateLimitPerMin" yaml:"rpcRateLimitPerMin"`
	DataDir              string   `toml:"DataDir" yaml:"dataDir"`
	OperatorKeystorePath string   `toml:"OperatorKeystorePath" yaml:"operatorKeystorePath"`
	PassphraseEnv        string   `toml:"PassphraseEnv" yaml:"passphraseEnv"`
	Owner                string   `toml:"Owner" yaml:"owner"`
	Scorers              []string `toml:"Scorers" yaml:"scorers"`
	Coordinator          string   `toml:"Coordinator" yaml:"coordinator"`
	Keeper               string   `toml:"Keeper" yaml:"keeper"`
	Paused               []string `toml:"Paused" yaml:"paused"`

	Access     AccessConfig     `toml:"access" yaml:"access"`
	Reputation ReputationConfig `toml:"reputation" yaml:"reputation"`
	Lending    LendingConfig    `toml:"lending" yaml:"lending"`
	Telemetry  TelemetryConfig  `toml:"telemetry" yaml:"telemetry"`
}

// AccessConfig tunes the loan pricing policy.
type AccessConfig struct {
	BaseRateBps uint64 `toml:"BaseRateBps" yaml:"baseRateBps"`
}

// ReputationConfig limits how fast a single scorer can move scores. Zero
// values disable the limit.
type ReputationConfig struct {
	MaxUpdatesPerEpoch uint32 `toml:"MaxUpdatesPerEpoch" yaml:"maxUpdatesPerEpoch"`
	MaxPointsPerEpoch  uint64 `toml:"MaxPointsPerEpoch" yaml:"maxPointsPerEpoch"`
	EpochSeconds       uint32 `toml:"EpochSeconds" yaml:"epochSeconds"`
}

// LendingConfig mirrors lending.Config with the liquidity amount kept as a
// decimal string so both file formats can carry it.
type LendingConfig struct {
	LoanTermSeconds     uint64 `toml:"LoanTermSeconds" yaml:"loanTermSeconds"`
	MinLoanSeconds      uint64 `toml:"MinLoanSeconds" yaml:"minLoanSeconds"`
	RepaymentReward     int64  `toml:"RepaymentReward" yaml:"repaymentReward"`
	LatePenalty         int64  `toml:"LatePenalty" yaml:"latePenalty"`
	FlashLoanPenalty    int64  `toml:"FlashLoanPenalty" yaml:"flashLoanPenalty"`
	DefaultPenalty      int64  `toml:"DefaultPenalty" yaml:"defaultPenalty"`
	InitialLiquidityWei string `toml:"InitialLiquidityWei" yaml:"initialLiquidityWei"`
}

// TelemetryConfig controls logging and OpenTelemetry export.
type TelemetryConfig struct {
	ServiceName  string `toml:"ServiceName" yaml:"serviceName"`
	Environment  string `toml:"Environment" yaml:"environment"`
	LogLevel     string `toml:"LogLevel" yaml:"logLevel"`
	LogFile      string `toml:"LogFile" yaml:"logFile"`
	OTLPEndpoint string `toml:"OTLPEndpoint" yaml:"otlpEndpoint"`
	OTLPHeaders  string `toml:"OTLPHeaders" yaml:"otlpHeaders"`
	Insecure     bool   `toml:"Insecure" yaml:"insecure"`
	Traces       bool   `toml:"Traces" yaml:"traces"`
	Metrics      bool   `toml:"Metrics" yaml:"metrics"`
}

// LoadOption customises Load.
type LoadOption func(*loadOptions)

type loadOptions struct {
	passphrase string
}

// WithKeystorePassphrase sets the passphrase used to encrypt a newly
// generated operator keystore.
func WithKeystorePassphrase(passphrase string) LoadOption {
	return func(o *loadOptions) {
		o.passphrase = passphrase
	}
}

// Load loads the configuration from the given path. A missing file is
// replaced by a default configuration and a fresh operator keystore. Files
// ending in .yaml or .yml are decoded as YAML, everything else as TOML.
func Load(path string, opts ...LoadOption) (*Config, error) {
	var options loadOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path, options)
	} else if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if isYAML(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown key %q", path, undecoded[0].String())
		}
	}
	cfg.applyDefaults()

	if err := ensureKeystore(path, cfg, options); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func defaultLending() LendingConfig {
	d := lending.DefaultConfig()
	return LendingConfig{
		LoanTermSeconds:     d.LoanTermSeconds,
		MinLoanSeconds:      d.MinLoanSeconds,
		RepaymentReward:     d.RepaymentReward,
		LatePenalty:         d.LatePenalty,
		FlashLoanPenalty:    d.FlashLoanPenalty,
		DefaultPenalty:      d.DefaultPenalty,
		InitialLiquidityWei: "0",
	}
}

func (l *LendingConfig) applyDefaults() {
	d := defaultLending()
	if l.LoanTermSeconds == 0 {
		l.LoanTermSeconds = d.LoanTermSeconds
	}
	if l.MinLoanSeconds == 0 {
		l.MinLoanSeconds = d.MinLoanSeconds
	}
	if l.RepaymentReward == 0 {
		l.RepaymentReward = d.RepaymentReward
	}
	if l.LatePenalty == 0 {
		l.LatePenalty = d.LatePenalty
	}
	if l.FlashLoanPenalty == 0 {
		l.FlashLoanPenalty = d.FlashLoanPenalty
	}
	if l.DefaultPenalty == 0 {
		l.DefaultPenalty = d.DefaultPenalty
	}
	if strings.TrimSpace(l.InitialLiquidityWei) == "" {
		l.InitialLiquidityWei = d.InitialLiquidityWei
	}
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = defaultRPCAddress
	}
	if strings.TrimSpace(c.RPCAuthTokenEnv) == "" {
		c.RPCAuthTokenEnv = defaultRPCTokenEnv
	}
	if c.RPCRateLimitPerMin == 0 {
		c.RPCRateLimitPerMin = defaultRateLimitPerMin
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = defaultDataDir
	}
	if strings.TrimSpace(c.PassphraseEnv) == "" {
		c.PassphraseEnv = defaultPassphraseEnv
	}
	if c.Scorers == nil {
		c.Scorers = []string{}
	}
	if c.Paused == nil {
		c.Paused = []string{}
	}
	if c.Access.BaseRateBps == 0 {
		c.Access.BaseRateBps = 500
	}
	c.Lending.applyDefaults()
	if strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		c.Telemetry.ServiceName = defaultServiceName
	}
	if strings.TrimSpace(c.Telemetry.LogLevel) == "" {
		c.Telemetry.LogLevel = "info"
	}
}

// Validate checks addresses and numeric bounds.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.RPCAddress) == "" {
		errs = append(errs, errors.New("RPCAddress must not be empty"))
	}
	if c.RPCRateLimitPerMin < 0 {
		errs = append(errs, errors.New("RPCRateLimitPerMin must not be negative"))
	}
	if c.Access.BaseRateBps > maxBasisPoints {
		errs = append(errs, fmt.Errorf("access.BaseRateBps %d exceeds %d", c.Access.BaseRateBps, maxBasisPoints))
	}
	for _, field := range []struct {
		name  string
		value string
	}{{"Owner", c.Owner}, {"Coordinator", c.Coordinator}, {"Keeper", c.Keeper}} {
		if _, err := parseOptionalAddress(field.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field.name, err))
		}
	}
	for i, scorer := range c.Scorers {
		if _, err := crypto.ParseAddress(scorer); err != nil {
			errs = append(errs, fmt.Errorf("Scorers[%d]: %w", i, err))
		}
	}
	if c.Reputation.EpochSeconds == 0 && (c.Reputation.MaxUpdatesPerEpoch > 0 || c.Reputation.MaxPointsPerEpoch > 0) {
		errs = append(errs, errors.New("reputation.EpochSeconds required when a scorer quota is set"))
	}
	if params, err := c.LendingParams(); err != nil {
		errs = append(errs, err)
	} else if err := params.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func parseOptionalAddress(value string) ([20]byte, error) {
	if strings.TrimSpace(value) == "" {
		return [20]byte{}, nil
	}
	addr, err := crypto.ParseAddress(value)
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Raw(), nil
}

// OwnerAddress returns the configured owner or fallback when unset.
func (c *Config) OwnerAddress(fallback [20]byte) ([20]byte, error) {
	owner, err := parseOptionalAddress(c.Owner)
	if err != nil {
		return [20]byte{}, err
	}
	if owner == ([20]byte{}) {
		return fallback, nil
	}
	return owner, nil
}

// CoordinatorAddress returns the lending coordinator's scorer identity,
// defaulting to the lending module address.
func (c *Config) CoordinatorAddress() ([20]byte, error) {
	addr, err := parseOptionalAddress(c.Coordinator)
	if err != nil {
		return [20]byte{}, err
	}
	if addr == ([20]byte{}) {
		return crypto.ModuleAddress("lending").Raw(), nil
	}
	return addr, nil
}

// KeeperAddress returns the configured liquidation keeper, zero when unset.
func (c *Config) KeeperAddress() ([20]byte, error) {
	return parseOptionalAddress(c.Keeper)
}

// ScorerAddresses parses the genesis scorer list.
func (c *Config) ScorerAddresses() ([][20]byte, error) {
	out := make([][20]byte, 0, len(c.Scorers))
	for _, scorer := range c.Scorers {
		addr, err := crypto.ParseAddress(scorer)
		if err != nil {
			return nil, fmt.Errorf("scorer %q: %w", scorer, err)
		}
		out = append(out, addr.Raw())
	}
	return out, nil
}

// ScorerQuota converts the reputation section into a quota.
func (c *Config) ScorerQuota() nativecommon.Quota {
	return nativecommon.Quota{
		MaxRequestsPerEpoch: c.Reputation.MaxUpdatesPerEpoch,
		MaxUnitsPerEpoch:    c.Reputation.MaxPointsPerEpoch,
		EpochSeconds:        c.Reputation.EpochSeconds,
	}
}

// LendingParams converts the lending section into the coordinator config.
func (c *Config) LendingParams() (lending.Config, error) {
	liquidity := strings.TrimSpace(c.Lending.InitialLiquidityWei)
	if liquidity == "" {
		liquidity = "0"
	}
	amount, ok := new(big.Int).SetString(liquidity, 10)
	if !ok {
		return lending.Config{}, fmt.Errorf("lending.InitialLiquidityWei %q is not a decimal integer", c.Lending.InitialLiquidityWei)
	}
	return lending.Config{
		LoanTermSeconds:     c.Lending.LoanTermSeconds,
		MinLoanSeconds:      c.Lending.MinLoanSeconds,
		RepaymentReward:     c.Lending.RepaymentReward,
		LatePenalty:         c.Lending.LatePenalty,
		FlashLoanPenalty:    c.Lending.FlashLoanPenalty,
		DefaultPenalty:      c.Lending.DefaultPenalty,
		InitialLiquidityWei: amount,
	}, nil
}

// RPCAuthToken reads the bearer token from the configured environment
// variable.
func (c *Config) RPCAuthToken() string {
	return strings.TrimSpace(os.Getenv(c.RPCAuthTokenEnv))
}

func ensureKeystore(configPath string, cfg *Config, options loadOptions) error {
	keystorePath := cfg.OperatorKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		if options.passphrase == "" {
			return fmt.Errorf("operator keystore %s missing and no passphrase provided to create it", keystorePath)
		}
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystoreWithParams(keystorePath, key, options.passphrase, keystoreParams); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.OperatorKeystorePath != keystorePath {
		cfg.OperatorKeystorePath = keystorePath
		if !isYAML(configPath) {
			return persist(configPath, cfg)
		}
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string, options loadOptions) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.DataDir = filepath.Join(filepath.Dir(path), "rep-data")
	if err := ensureKeystore(path, cfg, options); err != nil {
		return nil, err
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, defaultKeystoreName)
}
