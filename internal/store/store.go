// Package store persists terminal task results in a DuckDB database. The
// store is append-only: a result row is never updated or deleted, and a
// correction means running a new backtest.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-orchestrator/internal/logger"
	"github.com/rxtech-lab/argo-orchestrator/internal/types"
	apperrors "github.com/rxtech-lab/argo-orchestrator/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// StoredResult is one persisted row, metrics reinflated from their columns.
type StoredResult struct {
	ID     int64                `json:"id"`
	State  types.ExecutionState `json:"state"`
	Result types.Result         `json:"result"`
}

// ResultStore records results in DuckDB, one transaction per write so
// concurrent workers never interleave partial rows.
type ResultStore struct {
	db     *sql.DB
	sq     squirrel.StatementBuilderType
	logger *logger.Logger
}

// NewResultStore opens (or creates) the database at path and initializes its
// schema. Use ":memory:" for an ephemeral store.
func NewResultStore(path string, log *logger.Logger) (*ResultStore, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeStoreInitFailed, "failed to open database", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()

		return nil, apperrors.Wrap(apperrors.ErrCodeStoreInitFailed, "failed to connect to database", err)
	}

	s := &ResultStore{
		db:     db,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
		logger: log,
	}

	if err := s.initialize(); err != nil {
		db.Close()

		return nil, err
	}

	return s, nil
}

func (s *ResultStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE SEQUENCE IF NOT EXISTS result_id_seq;
		CREATE TABLE IF NOT EXISTS results (
			id BIGINT PRIMARY KEY,
			strategy TEXT NOT NULL,
			state TEXT NOT NULL,
			config_hash TEXT NOT NULL,
			config_yaml TEXT NOT NULL,
			completed_at TIMESTAMP NOT NULL,
			execution_seconds DOUBLE NOT NULL,
			error_message TEXT,
			warnings TEXT,
			total_return DOUBLE,
			total_return_pct DOUBLE,
			win_rate DOUBLE,
			max_drawdown DOUBLE,
			max_drawdown_pct DOUBLE,
			sharpe_ratio DOUBLE,
			sortino_ratio DOUBLE,
			calmar_ratio DOUBLE,
			profit_factor DOUBLE,
			avg_profit DOUBLE,
			avg_profit_pct DOUBLE,
			total_trades INTEGER,
			winning_trades INTEGER,
			losing_trades INTEGER,
			trades_json TEXT
		)
	`)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStoreInitFailed, "failed to create results table", err)
	}

	return nil
}

// Append writes one terminal result in its own transaction.
func (s *ResultStore) Append(ctx context.Context, state types.ExecutionState, result types.Result) error {
	if !state.IsTerminal() {
		return apperrors.Newf(apperrors.ErrCodeStoreWriteFailed,
			"refusing to store non-terminal state %s", state)
	}

	configYAML, err := yaml.Marshal(result.Config)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStoreWriteFailed, "failed to serialize configuration", err)
	}

	warningsJSON, err := json.Marshal(result.Warnings)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStoreWriteFailed, "failed to serialize warnings", err)
	}

	tradesJSON, err := json.Marshal(result.Trades)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStoreWriteFailed, "failed to serialize trades", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStoreWriteFailed, "failed to begin transaction", err)
	}

	var nextID int64

	if err := tx.QueryRowContext(ctx, "SELECT nextval('result_id_seq')").Scan(&nextID); err != nil {
		tx.Rollback()

		return apperrors.Wrap(apperrors.ErrCodeStoreWriteFailed, "failed to get next result id", err)
	}

	m := result.Metrics

	insert := s.sq.
		Insert("results").
		Columns(
			"id", "strategy", "state", "config_hash", "config_yaml",
			"completed_at", "execution_seconds", "error_message", "warnings",
			"total_return", "total_return_pct", "win_rate",
			"max_drawdown", "max_drawdown_pct",
			"sharpe_ratio", "sortino_ratio", "calmar_ratio",
			"profit_factor", "avg_profit", "avg_profit_pct",
			"total_trades", "winning_trades", "losing_trades",
			"trades_json",
		).
		Values(
			nextID, result.Strategy, string(state), result.Config.Hash(), string(configYAML),
			result.CompletedAt, result.ExecutionTime.Seconds(), result.ErrorMessage, string(warningsJSON),
			nullableFloat(m.TotalReturn), nullableFloat(m.TotalReturnPct), nullableFloat(m.WinRate),
			nullableFloat(m.MaxDrawdown), nullableFloat(m.MaxDrawdownPct),
			nullableFloat(m.SharpeRatio), nullableFloat(m.SortinoRatio), nullableFloat(m.CalmarRatio),
			nullableFloat(m.ProfitFactor), nullableFloat(m.AvgProfit), nullableFloat(m.AvgProfitPct),
			nullableInt(m.TotalTrades), nullableInt(m.WinningTrades), nullableInt(m.LosingTrades),
			string(tradesJSON),
		).
		RunWith(tx)

	if _, err := insert.ExecContext(ctx); err != nil {
		tx.Rollback()

		return apperrors.Wrap(apperrors.ErrCodeStoreWriteFailed, "failed to insert result", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStoreWriteFailed, "failed to commit result", err)
	}

	s.logger.Debug("Result stored",
		zap.Int64("id", nextID),
		zap.String("strategy", result.Strategy),
		zap.String("state", string(state)),
	)

	return nil
}

// ByStrategy returns every stored result for the strategy, newest first.
func (s *ResultStore) ByStrategy(ctx context.Context, strategy string) ([]StoredResult, error) {
	query := s.selectResults().
		Where(squirrel.Eq{"strategy": strategy}).
		OrderBy("completed_at DESC")

	return s.queryResults(ctx, query)
}

// ByTimeRange returns results completed within [from, to], newest first.
func (s *ResultStore) ByTimeRange(ctx context.Context, from, to time.Time) ([]StoredResult, error) {
	query := s.selectResults().
		Where(squirrel.GtOrEq{"completed_at": from}).
		Where(squirrel.LtOrEq{"completed_at": to}).
		OrderBy("completed_at DESC")

	return s.queryResults(ctx, query)
}

// Latest returns the newest results up to limit.
func (s *ResultStore) Latest(ctx context.Context, limit int) ([]StoredResult, error) {
	query := s.selectResults().
		OrderBy("completed_at DESC").
		Limit(uint64(limit))

	return s.queryResults(ctx, query)
}

// Close releases the database connection.
func (s *ResultStore) Close() error {
	return s.db.Close()
}

func (s *ResultStore) selectResults() squirrel.SelectBuilder {
	return s.sq.
		Select(
			"id", "strategy", "state", "config_yaml",
			"completed_at", "execution_seconds", "error_message", "warnings",
			"total_return", "total_return_pct", "win_rate",
			"max_drawdown", "max_drawdown_pct",
			"sharpe_ratio", "sortino_ratio", "calmar_ratio",
			"profit_factor", "avg_profit", "avg_profit_pct",
			"total_trades", "winning_trades", "losing_trades",
			"trades_json",
		).
		From("results")
}

func (s *ResultStore) queryResults(ctx context.Context, query squirrel.SelectBuilder) ([]StoredResult, error) {
	rows, err := query.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeStoreQueryFailed, "failed to query results", err)
	}
	defer rows.Close()

	var results []StoredResult

	for rows.Next() {
		stored, err := scanResult(rows)
		if err != nil {
			return nil, err
		}

		results = append(results, stored)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeStoreQueryFailed, "failed to read result rows", err)
	}

	return results, nil
}

func scanResult(rows *sql.Rows) (StoredResult, error) {
	var (
		stored       StoredResult
		state        string
		configYAML   string
		execSeconds  float64
		errMsg       sql.NullString
		warningsJSON sql.NullString
		tradesJSON   sql.NullString

		totalReturn, totalReturnPct, winRate     sql.NullFloat64
		maxDrawdown, maxDrawdownPct              sql.NullFloat64
		sharpe, sortino, calmar                  sql.NullFloat64
		profitFactor, avgProfit, avgProfitPct    sql.NullFloat64
		totalTrades, winningTrades, losingTrades sql.NullInt64
	)

	err := rows.Scan(
		&stored.ID, &stored.Result.Strategy, &state, &configYAML,
		&stored.Result.CompletedAt, &execSeconds, &errMsg, &warningsJSON,
		&totalReturn, &totalReturnPct, &winRate,
		&maxDrawdown, &maxDrawdownPct,
		&sharpe, &sortino, &calmar,
		&profitFactor, &avgProfit, &avgProfitPct,
		&totalTrades, &winningTrades, &losingTrades,
		&tradesJSON,
	)
	if err != nil {
		return StoredResult{}, apperrors.Wrap(apperrors.ErrCodeStoreQueryFailed, "failed to scan result row", err)
	}

	stored.State = types.ExecutionState(state)
	stored.Result.ExecutionTime = time.Duration(execSeconds * float64(time.Second))
	stored.Result.ErrorMessage = errMsg.String

	if err := yaml.Unmarshal([]byte(configYAML), &stored.Result.Config); err != nil {
		return StoredResult{}, apperrors.Wrap(apperrors.ErrCodeStoreQueryFailed, "failed to decode stored configuration", err)
	}

	if warningsJSON.Valid && warningsJSON.String != "" {
		if err := json.Unmarshal([]byte(warningsJSON.String), &stored.Result.Warnings); err != nil {
			return StoredResult{}, apperrors.Wrap(apperrors.ErrCodeStoreQueryFailed, "failed to decode stored warnings", err)
		}
	}

	if tradesJSON.Valid && tradesJSON.String != "" {
		if err := json.Unmarshal([]byte(tradesJSON.String), &stored.Result.Trades); err != nil {
			return StoredResult{}, apperrors.Wrap(apperrors.ErrCodeStoreQueryFailed, "failed to decode stored trades", err)
		}
	}

	stored.Result.Metrics = types.Metrics{
		TotalReturn:    optFloat(totalReturn),
		TotalReturnPct: optFloat(totalReturnPct),
		WinRate:        optFloat(winRate),
		MaxDrawdown:    optFloat(maxDrawdown),
		MaxDrawdownPct: optFloat(maxDrawdownPct),
		SharpeRatio:    optFloat(sharpe),
		SortinoRatio:   optFloat(sortino),
		CalmarRatio:    optFloat(calmar),
		ProfitFactor:   optFloat(profitFactor),
		AvgProfit:      optFloat(avgProfit),
		AvgProfitPct:   optFloat(avgProfitPct),
		TotalTrades:    optInt(totalTrades),
		WinningTrades:  optInt(winningTrades),
		LosingTrades:   optInt(losingTrades),
	}

	return stored, nil
}

func nullableFloat(opt optional.Option[float64]) interface{} {
	if opt.IsNone() {
		return nil
	}

	return opt.Unwrap()
}

func nullableInt(opt optional.Option[int]) interface{} {
	if opt.IsNone() {
		return nil
	}

	return opt.Unwrap()
}

func optFloat(v sql.NullFloat64) optional.Option[float64] {
	if !v.Valid {
		return optional.None[float64]()
	}

	return optional.Some(v.Float64)
}

func optInt(v sql.NullInt64) optional.Option[int] {
	if !v.Valid {
		return optional.None[int]()
	}

	return optional.Some(int(v.Int64))
}
