package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Broker API
	BrokerAPIKey    string
	BrokerSecretKey string
	BrokerTestnet   bool

	// Persistence
	DBPath string

	// Telegram
	TelegramToken  string
	TelegramChatID int64

	// Strategy seed defaults. The persisted trade parameter profile
	// overrides these once a row exists; see repository.TradeParams.
	BaseQty             float64
	AveragingTriggerPct float64
	TakeProfitPct       float64
	AveragingMultiplier float64
	PollInterval        time.Duration
	OutsideRTH          bool
	WholeUnits          bool
	MaintainExit        bool

	// Engine
	StopTimeout time.Duration
}

func Load() (*Config, error) {
	// .env is optional; plain environment variables work the same way.
	_ = godotenv.Load()

	cfg := &Config{}
	var err error

	cfg.BrokerAPIKey = os.Getenv("BROKER_API_KEY")
	if cfg.BrokerAPIKey == "" {
		return nil, fmt.Errorf("BROKER_API_KEY is required")
	}
	cfg.BrokerSecretKey = os.Getenv("BROKER_SECRET_KEY")
	if cfg.BrokerSecretKey == "" {
		return nil, fmt.Errorf("BROKER_SECRET_KEY is required")
	}
	cfg.BrokerTestnet = os.Getenv("BROKER_TESTNET") == "true"

	cfg.DBPath = os.Getenv("DB_PATH")
	if cfg.DBPath == "" {
		cfg.DBPath = "bot.db"
	}

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		cfg.TelegramChatID, err = strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for TELEGRAM_CHAT_ID: %w", err)
		}
	}

	cfg.BaseQty, err = parseFloatDefault(os.Getenv("BASE_QTY"), "BASE_QTY", 1)
	if err != nil {
		return nil, err
	}

	cfg.AveragingTriggerPct, err = parseFloatDefault(os.Getenv("DCA_STEP_PCT"), "DCA_STEP_PCT", 2.0)
	if err != nil {
		return nil, err
	}

	cfg.TakeProfitPct, err = parseFloatDefault(os.Getenv("TAKE_PROFIT_PCT"), "TAKE_PROFIT_PCT", 2.0)
	if err != nil {
		return nil, err
	}

	cfg.AveragingMultiplier, err = parseFloatDefault(os.Getenv("DCA_MULTIPLIER"), "DCA_MULTIPLIER", 1)
	if err != nil {
		return nil, err
	}

	pollSec, err := parseIntDefault(os.Getenv("POLL_INTERVAL_SEC"), "POLL_INTERVAL_SEC", 2)
	if err != nil {
		return nil, err
	}
	cfg.PollInterval = time.Duration(pollSec) * time.Second

	cfg.OutsideRTH = os.Getenv("OUTSIDE_RTH") == "true"

	// Integer lots by default: the strategy floors sell sizes unless the
	// instrument trades fractional units.
	cfg.WholeUnits = os.Getenv("WHOLE_UNITS") != "false"

	cfg.MaintainExit = os.Getenv("MAINTAIN_EXIT_ORDER") == "true"

	stopSec, err := parseIntDefault(os.Getenv("STOP_TIMEOUT_SEC"), "STOP_TIMEOUT_SEC", 10)
	if err != nil {
		return nil, err
	}
	cfg.StopTimeout = time.Duration(stopSec) * time.Second

	return cfg, nil
}

func parseFloatDefault(value, name string, def float64) (float64, error) {
	if value == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %w", name, err)
	}
	return f, nil
}

func parseIntDefault(value, name string, def int) (int, error) {
	if value == "" {
		return def, nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %w", name, err)
	}
	return i, nil
}
