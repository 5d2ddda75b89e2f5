package engine

import (
	"strconv"

	"github.com/rxtech-lab/argo-orchestrator/internal/types"
)

// Command is a fully resolved engine invocation: an executable name, a
// closed ordered argument list, and a working directory. Commands are only
// built from validated configurations and are never passed through a shell,
// so user-controlled strings cannot be interpolated into anything
// executable.
type Command struct {
	Name string
	Args []string
	Dir  string
}

// String renders the invocation for logging only.
func (c Command) String() string {
	out := c.Name
	for _, arg := range c.Args {
		out += " " + arg
	}

	return out
}

// BuildBacktestCommand builds the one-shot backtest invocation for a
// strategy. Trade export is always requested; when exportPath is non-empty
// the engine writes its structured result file there, and the scheduler
// prefers that file over scraping the table output.
func BuildBacktestCommand(binary, workDir, strategy string, cfg types.Configuration, exportPath string) Command {
	args := []string{
		"backtesting",
		"--strategy", strategy,
		"--timeframe", cfg.Timeframe,
		"--timerange", cfg.TimeRangeToken(),
		"--max-open-trades", strconv.Itoa(cfg.MaxOpenTrades),
		"--stake-amount", cfg.StakeAmount,
		"--dry-run-wallet", cfg.InitialBalance.String(),
		"--fee", strconv.FormatFloat(cfg.FeeRate, 'f', -1, 64),
		"--export", "trades",
	}

	if exportPath != "" {
		args = append(args, "--export-filename", exportPath)
	}

	if cfg.EnablePositionStacking {
		args = append(args, "--enable-position-stacking")
	}

	args = append(args, "--pairs")
	args = append(args, cfg.Pairs...)

	return Command{Name: binary, Args: args, Dir: workDir}
}

// BuildDryRunCommand builds the long-running monitoring invocation for a
// strategy. The runID namespaces the engine's local state so concurrent
// sessions do not collide.
func BuildDryRunCommand(binary, workDir, strategy, runID string, cfg types.Configuration) Command {
	args := []string{
		"trade",
		"--strategy", strategy,
		"--dry-run",
		"--dry-run-wallet", cfg.InitialBalance.String(),
		"--db-url", "sqlite:///dryrun_" + runID + ".sqlite",
	}

	return Command{Name: binary, Args: args, Dir: workDir}
}

// BuildVersionCommand builds the probe used to verify the engine binary is
// present and runnable before any work is accepted.
func BuildVersionCommand(binary string) Command {
	return Command{Name: binary, Args: []string{"--version"}, Dir: ""}
}
