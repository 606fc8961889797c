package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/walletkeeper/internal/flagx"
	"github.com/dmitrijs2005/walletkeeper/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "1s" and integer nanoseconds.
//
// Only non-empty values override the current Config, so a partial file keeps
// the defaults for everything it omits.
type JsonConfig struct {
	HTTPAddr                     string         `json:"http_addr"`
	DatabaseDSN                  string         `json:"database_dsn"`
	SecretKey                    string         `json:"secret_key"`
	AccessTokenValidityDuration  timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration `json:"refresh_token_validity_duration"`
	LogLevel                     string         `json:"log_level"`
	SolanaRPCURL                 string         `json:"solana_rpc_url"`
	SKRTokenMint                 string         `json:"skr_token_mint"`
	SKRDecimals                  *uint8         `json:"skr_decimals"`
	ChainTimeout                 timex.Duration `json:"chain_timeout"`
	SKRPerLike                   string         `json:"skr_per_like"`
	SKRPerComment                string         `json:"skr_per_comment"`
	RewardCron                   string         `json:"reward_cron"`
	SettlementPeriod             timex.Duration `json:"settlement_period"`
	SchedulerWorkers             int            `json:"scheduler_workers"`
	S3RootUser                   string         `json:"s3_root_user"`
	S3RootPassword               string         `json:"s3_root_password"`
	S3Bucket                     string         `json:"s3_bucket"`
	S3Region                     string         `json:"s3_region"`
	S3BaseEndpoint               string         `json:"s3_base_endpoint"`
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The file path comes from the -c or -config command-line flags. If neither
// is set, no JSON file is loaded. If the file cannot be read or contains
// invalid JSON, the function panics.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.ConfigPath(os.Args[1:])

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setDuration(&config.RefreshTokenValidityDuration, c.RefreshTokenValidityDuration)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.SolanaRPCURL, c.SolanaRPCURL)
	setString(&config.SKRTokenMint, c.SKRTokenMint)
	if c.SKRDecimals != nil {
		config.SKRDecimals = *c.SKRDecimals
	}
	setDuration(&config.ChainTimeout, c.ChainTimeout)
	setString(&config.SKRPerLike, c.SKRPerLike)
	setString(&config.SKRPerComment, c.SKRPerComment)
	setString(&config.RewardCron, c.RewardCron)
	setDuration(&config.SettlementPeriod, c.SettlementPeriod)
	if c.SchedulerWorkers > 0 {
		config.SchedulerWorkers = c.SchedulerWorkers
	}
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
}
