package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads environment variables from a .env file if present.
// Existing environment variables are not overwritten.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

type Config struct {
	NightDurationSeconds     int
	DayDurationSeconds       int
	VotingDurationSeconds    int
	AutoAdvance              bool
	RevealRoleOnDeath        bool
	PollIntervalSeconds      int
	StaleThresholdSeconds    int
	ServerCoordinates        bool
	DBMaxOpenConns           int
	DBMaxIdleConns           int
	DBConnMaxLifetimeSeconds int
	DBConnMaxIdleTimeSeconds int
}

func Default() Config {
	return Config{
		NightDurationSeconds:     60,
		DayDurationSeconds:       120,
		VotingDurationSeconds:    60,
		AutoAdvance:              true,
		RevealRoleOnDeath:        true,
		PollIntervalSeconds:      2,
		StaleThresholdSeconds:    15,
		ServerCoordinates:        true,
		DBMaxOpenConns:           10,
		DBMaxIdleConns:           10,
		DBConnMaxLifetimeSeconds: 300,
		DBConnMaxIdleTimeSeconds: 60,
	}
}

func Load() Config {
	cfg := Default()
	if raw := os.Getenv("NIGHT_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.NightDurationSeconds = value
		}
	}
	if raw := os.Getenv("DAY_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DayDurationSeconds = value
		}
	}
	if raw := os.Getenv("VOTING_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.VotingDurationSeconds = value
		}
	}
	if raw := os.Getenv("AUTO_ADVANCE"); raw != "" {
		if value, err := strconv.ParseBool(raw); err == nil {
			cfg.AutoAdvance = value
		}
	}
	if raw := os.Getenv("REVEAL_ROLE_ON_DEATH"); raw != "" {
		if value, err := strconv.ParseBool(raw); err == nil {
			cfg.RevealRoleOnDeath = value
		}
	}
	if raw := os.Getenv("POLL_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.PollIntervalSeconds = value
		}
	}
	if raw := os.Getenv("STALE_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.StaleThresholdSeconds = value
		}
	}
	if raw := os.Getenv("COORDINATOR_MODE"); raw != "" {
		cfg.ServerCoordinates = raw != "client"
	}
	if raw := os.Getenv("DB_MAX_OPEN_CONNS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DBMaxOpenConns = value
		}
	}
	if raw := os.Getenv("DB_MAX_IDLE_CONNS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DBMaxIdleConns = value
		}
	}
	if raw := os.Getenv("DB_CONN_MAX_LIFETIME_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DBConnMaxLifetimeSeconds = value
		}
	}
	if raw := os.Getenv("DB_CONN_MAX_IDLE_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DBConnMaxIdleTimeSeconds = value
		}
	}
	return cfg
}
