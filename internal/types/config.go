package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	apperrors "github.com/rxtech-lab/argo-orchestrator/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// StakeAmountUnlimited lets the engine size stakes from the available balance.
const StakeAmountUnlimited = "unlimited"

// Configuration is the value object describing one backtest or dry-run
// invocation. It is copied into each task at submission and never mutated
// afterwards, so a task's run is reproducible from its stored snapshot alone.
type Configuration struct {
	// StartTime is the beginning of the historical range.
	StartTime time.Time `yaml:"start_time" json:"start_time" validate:"required"`
	// EndTime is the end of the historical range. Must be strictly after StartTime.
	EndTime time.Time `yaml:"end_time" json:"end_time" validate:"required"`
	// Timeframe is the candle resolution passed to the engine.
	Timeframe string `yaml:"timeframe" json:"timeframe" validate:"required,oneof=1m 5m 15m 30m 1h 2h 4h 6h 8h 12h 1d 3d 1w"`
	// Pairs is the trading pair whitelist. At least one pair is required.
	Pairs []string `yaml:"pairs" json:"pairs" validate:"required,min=1,dive,required"`
	// InitialBalance is the starting wallet balance in stake currency.
	InitialBalance decimal.Decimal `yaml:"initial_balance" json:"initial_balance"`
	// MaxOpenTrades caps simultaneous positions.
	MaxOpenTrades int `yaml:"max_open_trades" json:"max_open_trades" validate:"required,gt=0"`
	// FeeRate is the per-trade fee fraction (e.g. 0.001).
	FeeRate float64 `yaml:"fee_rate" json:"fee_rate" validate:"gte=0"`
	// StakeAmount is either "unlimited" or a fixed stake per trade.
	StakeAmount string `yaml:"stake_amount" json:"stake_amount"`
	// EnablePositionStacking allows the engine to add to open positions.
	EnablePositionStacking bool `yaml:"enable_position_stacking" json:"enable_position_stacking"`
}

// configurationYAML is the on-disk form. The balance travels as a plain
// scalar so snapshots stay hand-editable.
type configurationYAML struct {
	StartTime              time.Time `yaml:"start_time"`
	EndTime                time.Time `yaml:"end_time"`
	Timeframe              string    `yaml:"timeframe"`
	Pairs                  []string  `yaml:"pairs"`
	InitialBalance         string    `yaml:"initial_balance"`
	MaxOpenTrades          int       `yaml:"max_open_trades"`
	FeeRate                float64   `yaml:"fee_rate"`
	StakeAmount            string    `yaml:"stake_amount"`
	EnablePositionStacking bool      `yaml:"enable_position_stacking"`
}

// MarshalYAML implements custom marshaling for Configuration.
func (c Configuration) MarshalYAML() (interface{}, error) {
	return configurationYAML{
		StartTime:              c.StartTime,
		EndTime:                c.EndTime,
		Timeframe:              c.Timeframe,
		Pairs:                  c.Pairs,
		InitialBalance:         c.InitialBalance.String(),
		MaxOpenTrades:          c.MaxOpenTrades,
		FeeRate:                c.FeeRate,
		StakeAmount:            c.StakeAmount,
		EnablePositionStacking: c.EnablePositionStacking,
	}, nil
}

// UnmarshalYAML implements custom unmarshaling for Configuration.
func (c *Configuration) UnmarshalYAML(value *yaml.Node) error {
	var raw configurationYAML
	if err := value.Decode(&raw); err != nil {
		return err
	}

	c.StartTime = raw.StartTime
	c.EndTime = raw.EndTime
	c.Timeframe = raw.Timeframe
	c.Pairs = raw.Pairs
	c.MaxOpenTrades = raw.MaxOpenTrades
	c.FeeRate = raw.FeeRate
	c.StakeAmount = raw.StakeAmount
	c.EnablePositionStacking = raw.EnablePositionStacking

	if raw.InitialBalance != "" {
		balance, err := decimal.NewFromString(raw.InitialBalance)
		if err != nil {
			return apperrors.Wrapf(apperrors.ErrCodeInvalidBalance, err,
				"invalid initial balance %q", raw.InitialBalance)
		}

		c.InitialBalance = balance
	}

	return nil
}

// DefaultConfiguration returns a configuration with the defaults the
// original product shipped with. Callers still set the time range.
func DefaultConfiguration() Configuration {
	return Configuration{
		StartTime:              time.Time{},
		EndTime:                time.Time{},
		Timeframe:              "1h",
		Pairs:                  []string{"BTC/USDT"},
		InitialBalance:         decimal.NewFromInt(1000),
		MaxOpenTrades:          3,
		FeeRate:                0.001,
		StakeAmount:            StakeAmountUnlimited,
		EnablePositionStacking: false,
	}
}

// Validate checks the configuration and returns a typed validation error
// for rejected configurations. Rejection happens at submission time; an
// invalid configuration never enters the queue.
func (c Configuration) Validate() error {
	if !c.EndTime.After(c.StartTime) {
		return apperrors.Newf(apperrors.ErrCodeInvalidTimeRange,
			"end time %s must be strictly after start time %s",
			c.EndTime.Format(time.RFC3339), c.StartTime.Format(time.RFC3339))
	}

	if len(c.Pairs) == 0 {
		return apperrors.New(apperrors.ErrCodeEmptyPairList, "pair list must not be empty")
	}

	if !c.InitialBalance.IsPositive() {
		return apperrors.Newf(apperrors.ErrCodeInvalidBalance,
			"initial balance must be greater than 0, got %s", c.InitialBalance)
	}

	if c.StakeAmount != StakeAmountUnlimited {
		stake, err := decimal.NewFromString(c.StakeAmount)
		if err != nil || !stake.IsPositive() {
			return apperrors.Newf(apperrors.ErrCodeInvalidStakeAmount,
				"stake amount must be %q or a positive number, got %q", StakeAmountUnlimited, c.StakeAmount)
		}
	}

	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInvalidConfiguration, "invalid configuration", err)
	}

	return nil
}

// Hash returns a stable hex digest of the canonical yaml encoding. Results
// are addressable by (strategy, configuration hash, timestamp).
func (c Configuration) Hash() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		// yaml.Marshal on a plain value struct cannot fail at runtime;
		// fall back to the formatted value so the hash stays stable.
		data = []byte(fmt.Sprintf("%+v", c))
	}

	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:])
}

// TimeRangeToken formats the range the way the engine CLI expects it,
// e.g. "20230101-20231231".
func (c Configuration) TimeRangeToken() string {
	return fmt.Sprintf("%s-%s", c.StartTime.Format("20060102"), c.EndTime.Format("20060102"))
}
