package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/richard-senior/podds/internal/logger"
	"github.com/richard-senior/podds/pkg/podds"
)

// Config is the process configuration. Engine constants live in podds.LeagueParameters;
// this only covers where things are and how hard the engine works.
type Config struct {
	// === Storage ===
	DbPath      string // sqlite database (PODDS_DB_PATH)
	LeaguesFile string // optional yaml league overrides (PODDS_LEAGUES_FILE)

	// === Logging ===
	LogLevel  string // PODDS_LOG_LEVEL
	LogOutput rune   // c, f or b (PODDS_LOG_OUTPUT)
	LogFile   string // PODDS_LOG_FILE

	// === Monte Carlo ===
	Trials  int    // PODDS_MC_TRIALS
	Seed    uint64 // PODDS_MC_SEED
	Workers int    // PODDS_MC_WORKERS

	// === Staking ===
	Bankroll decimal.Decimal // PODDS_BANKROLL

	// === Auto-calibration ===
	CalibrationCron  string // six field cron spec, seconds first (PODDS_CALIBRATION_CRON)
	CalibrationBatch int    // ledger rows consumed per league per run (PODDS_CALIBRATION_BATCH)
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		DbPath:           "podds.db",
		LogLevel:         "info",
		LogOutput:        'c',
		Trials:           50000,
		Seed:             42,
		Workers:          1,
		Bankroll:         decimal.NewFromInt(1000),
		CalibrationCron:  "0 0 4 * * *",
		CalibrationBatch: 50,
	}
}

// Load reads .env files (missing ones are ignored) and then the environment over the defaults.
// Malformed numbers are errors rather than silently falling back.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		logger.Debug("No .env file loaded", err)
	}

	c := Default()
	c.DbPath = envStr("PODDS_DB_PATH", c.DbPath)
	c.LeaguesFile = envStr("PODDS_LEAGUES_FILE", c.LeaguesFile)
	c.LogLevel = envStr("PODDS_LOG_LEVEL", c.LogLevel)
	c.LogFile = envStr("PODDS_LOG_FILE", c.LogFile)
	c.CalibrationCron = envStr("PODDS_CALIBRATION_CRON", c.CalibrationCron)
	if v := envStr("PODDS_LOG_OUTPUT", ""); v != "" {
		c.LogOutput = rune(strings.ToLower(v)[0])
	}

	var err error
	if c.Trials, err = envInt("PODDS_MC_TRIALS", c.Trials); err != nil {
		return nil, err
	}
	if c.Workers, err = envInt("PODDS_MC_WORKERS", c.Workers); err != nil {
		return nil, err
	}
	if c.CalibrationBatch, err = envInt("PODDS_CALIBRATION_BATCH", c.CalibrationBatch); err != nil {
		return nil, err
	}
	if v := os.Getenv("PODDS_MC_SEED"); v != "" {
		if c.Seed, err = strconv.ParseUint(v, 10, 64); err != nil {
			return nil, fmt.Errorf("PODDS_MC_SEED must be an unsigned integer, got: %q", v)
		}
	}
	if v := os.Getenv("PODDS_BANKROLL"); v != "" {
		if c.Bankroll, err = decimal.NewFromString(v); err != nil {
			return nil, fmt.Errorf("PODDS_BANKROLL must be a decimal amount, got: %q", v)
		}
	}
	return c, nil
}

// Validate ensures every value is within a workable range
func (c *Config) Validate() error {
	if c.DbPath == "" {
		return fmt.Errorf("DbPath must not be empty")
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogOutput != 'c' && c.LogOutput != 'f' && c.LogOutput != 'b' {
		return fmt.Errorf("LogOutput must be one of c, f or b, got: %q", c.LogOutput)
	}
	if c.Trials < 1000 || c.Trials > 10_000_000 {
		return fmt.Errorf("Trials must be between 1000 and 10000000, got: %d", c.Trials)
	}
	if c.Workers < 1 || c.Workers > 256 {
		return fmt.Errorf("Workers must be between 1 and 256, got: %d", c.Workers)
	}
	if c.Bankroll.IsNegative() {
		return fmt.Errorf("Bankroll must not be negative, got: %s", c.Bankroll)
	}
	if c.CalibrationBatch < 1 || c.CalibrationBatch > 10000 {
		return fmt.Errorf("CalibrationBatch must be between 1 and 10000, got: %d", c.CalibrationBatch)
	}
	if _, err := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor).Parse(c.CalibrationCron); err != nil {
		return fmt.Errorf("CalibrationCron %q is not a valid schedule: %w", c.CalibrationCron, err)
	}
	return nil
}

// ApplyLogging configures the logger from the config
func (c *Config) ApplyLogging() error {
	level, err := logger.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	if c.LogFile != "" {
		logger.SetLogFile(c.LogFile)
	}
	return logger.SetLogOutput(c.LogOutput)
}

// Simulation returns the Monte Carlo options
func (c *Config) Simulation() podds.SimulationOptions {
	opts := podds.DefaultSimulationOptions()
	opts.Trials = c.Trials
	opts.Seed = c.Seed
	opts.Workers = c.Workers
	return opts
}

// Leagues returns the built-in registry, overridden by the leagues file when one is set
func (c *Config) Leagues() (podds.Leagues, error) {
	if c.LeaguesFile == "" {
		return podds.DefaultLeagues(), nil
	}
	leagues, err := podds.LoadLeagues(c.LeaguesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load leagues from %s: %w", c.LeaguesFile, err)
	}
	return leagues, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got: %q", key, v)
	}
	return n, nil
}
