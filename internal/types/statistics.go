package types

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type TradeHoldingTime struct {
	// Minimum holding time of a closed position in seconds
	Min int `yaml:"min" json:"min"`
	// Maximum holding time of a closed position in seconds
	Max int `yaml:"max" json:"max"`
	// Average holding time of a closed position in seconds
	Avg int `yaml:"avg" json:"avg"`
}

type TradePnl struct {
	// Realized PnL. By adding all the sell trades' pnl.
	RealizedPnL float64 `yaml:"realized_pnl" json:"realized_pnl"`
	// Unrealized PnL of the positions still open at the last known prices.
	UnrealizedPnL float64 `yaml:"unrealized_pnl" json:"unrealized_pnl"`
	// Total PnL. By adding RealizedPnL and UnrealizedPnL.
	TotalPnL float64 `yaml:"total_pnl" json:"total_pnl"`
	// Maximum loss. Find all closed positions' minimum pnl.
	MaximumLoss float64 `yaml:"maximum_loss" json:"maximum_loss"`
	// Maximum profit. Find all closed positions' maximum pnl.
	MaximumProfit float64 `yaml:"maximum_profit" json:"maximum_profit"`
}

type TradeResult struct {
	// Count of all fills, BUY and SELL.
	NumberOfTrades int `yaml:"number_of_trades" json:"number_of_trades"`
	// Count of positions fully closed.
	NumberOfRoundTrips int `yaml:"number_of_round_trips" json:"number_of_round_trips"`
	// Count of closed positions with positive pnl.
	NumberOfWinningTrades int `yaml:"number_of_winning_trades" json:"number_of_winning_trades"`
	// Count of closed positions with negative pnl.
	NumberOfLosingTrades int `yaml:"number_of_losing_trades" json:"number_of_losing_trades"`
	// Count of orders rejected by the OMS or ledger.
	NumberOfRejections int `yaml:"number_of_rejections" json:"number_of_rejections"`
	// Win rate over closed positions.
	WinRate float64 `yaml:"win_rate" json:"win_rate"`
	// Maximum drawdown of realized pnl.
	MaxDrawdown float64 `yaml:"max_drawdown" json:"max_drawdown"`
	// Annualized Sharpe ratio of the daily closing equity.
	SharpeRatio float64 `yaml:"sharpe_ratio" json:"sharpe_ratio"`
	// Gross profit over gross loss of closed positions; 0 without losses.
	ProfitFactor float64 `yaml:"profit_factor" json:"profit_factor"`
}

// StrategyInfo contains metadata about the strategy that generated stats.
type StrategyInfo struct {
	// Name is the registry name of the strategy
	Name string `yaml:"name" json:"name"`
	// Version is the data contract version the strategy was built against
	Version string `yaml:"version" json:"version"`
}

type TradeStats struct {
	// ID is the run identifier.
	ID string `yaml:"id" json:"id"`
	// Date is the trading day the stats cover, or the session start date for cumulative stats.
	Date string `yaml:"date" json:"date"`
	// SessionStart is when the run started.
	SessionStart time.Time `yaml:"session_start" json:"session_start"`
	// LastUpdated is when the stats were computed.
	LastUpdated time.Time `yaml:"last_updated" json:"last_updated"`
	// Instruments traded in this run.
	Instruments []string `yaml:"instruments" json:"instruments"`
	// Result of all trades.
	TradeResult TradeResult `yaml:"trade_result" json:"trade_result"`
	// Holding time of closed positions.
	TradeHoldingTime TradeHoldingTime `yaml:"trade_holding_time" json:"trade_holding_time"`
	// PnL of all trades.
	TradePnl TradePnl `yaml:"trade_pnl" json:"trade_pnl"`
	// InitialCash is the cash pool at the start of the run.
	InitialCash float64 `yaml:"initial_cash" json:"initial_cash"`
	// FinalEquity is the portfolio value at the last known prices.
	FinalEquity float64 `yaml:"final_equity" json:"final_equity"`
	// TradesFilePath is the path to the trades parquet file.
	TradesFilePath string `yaml:"trades_file_path" json:"trades_file_path"`
	// SnapshotsFilePath is the path to the portfolio snapshots parquet file.
	SnapshotsFilePath string `yaml:"snapshots_file_path" json:"snapshots_file_path"`
	// Strategy contains metadata about the strategy that generated these stats.
	Strategy StrategyInfo `yaml:"strategy" json:"strategy"`
}

// WriteTradeStats writes stats to path as YAML.
func WriteTradeStats(path string, stats TradeStats) error {
	data, err := yaml.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal trade stats to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write trade stats to file: %w", err)
	}

	return nil
}

// ReadTradeStats reads stats written by WriteTradeStats.
func ReadTradeStats(path string) (TradeStats, error) {
	var stats TradeStats

	data, err := os.ReadFile(path)
	if err != nil {
		return stats, fmt.Errorf("failed to read trade stats file: %w", err)
	}

	if err := yaml.Unmarshal(data, &stats); err != nil {
		return stats, fmt.Errorf("failed to unmarshal trade stats: %w", err)
	}

	return stats, nil
}
