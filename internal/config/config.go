package config

import (
	"errors"
	"fmt"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jaam8/poll_ledger/internal/address"
	"github.com/jaam8/poll_ledger/pkg/tarantool"
	"github.com/joho/godotenv"
	"os"
)

const (
	StoreMemory    = "memory"
	StoreTarantool = "tarantool"
	StoreSQLite    = "sqlite"
	StorePostgres  = "postgres"
)

var ErrUnknownStore = errors.New("config: unknown STORE_DRIVER")

type Config struct {
	BotToken    string           `yaml:"BOT_TOKEN"         env:"BOT_TOKEN"`
	MmURL       string           `yaml:"MM_URL"            env:"MM_URL"`
	MmWsURL     string           `yaml:"MM_WS_URL"         env:"MM_WS_URL"`
	ChannelID   string           `yaml:"CHANNEL_ID"        env:"CHANNEL_ID"`
	LogLevel    string           `yaml:"LOG_LEVEL"         env:"LOG_LEVEL" env-default:"debug"`
	StoreDriver string           `yaml:"STORE_DRIVER"      env:"STORE_DRIVER" env-default:"memory"`
	DatabaseDSN string           `yaml:"DATABASE_DSN"      env:"DATABASE_DSN"`
	ProgramID   string           `yaml:"LEDGER_PROGRAM_ID" env:"LEDGER_PROGRAM_ID"`
	Tarantool   tarantool.Config `yaml:"TARANTOOL"         env:"TARANTOOL"`
}

// New loads .env when present and then reads the environment.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	var config Config
	if err := cleanenv.ReadEnv(&config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreMemory, StoreTarantool:
	case StoreSQLite, StorePostgres:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("config: DATABASE_DSN is required for %s", c.StoreDriver)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStore, c.StoreDriver)
	}
	if _, err := c.Program(); err != nil {
		return err
	}
	return nil
}

// Program is the address every ledger derivation is rooted at.
func (c *Config) Program() (address.Address, error) {
	if c.ProgramID == "" {
		return address.DefaultProgram, nil
	}
	program, err := address.Parse(c.ProgramID)
	if err != nil {
		return address.Address{}, fmt.Errorf("config: LEDGER_PROGRAM_ID: %w", err)
	}
	return program, nil
}
