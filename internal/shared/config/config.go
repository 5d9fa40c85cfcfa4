package config

import (
	"os"
	"strconv"

	"gopkg.in/ini.v1"

	"relaydir/internal/shared/types"
)

// LoadIni loads the behavior configuration file into cfg and applies
// environment overrides and defaults.
func LoadIni(cfg *types.Config, fileName string) error {
	iniFile, err := ini.Load(fileName)
	if err != nil {
		return err
	}
	if err := iniFile.MapTo(cfg); err != nil {
		return err
	}
	overrideFromEnvString(&cfg.UpstreamConf.URL, "UPSTREAM_URL")
	overrideFromEnvInt(&cfg.WebConf.WebPort, "WEB_PORT")
	cfg.ApplyDefaults()
	return nil
}

func overrideFromEnvString(target *string, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		*target = envValue
	}
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}
