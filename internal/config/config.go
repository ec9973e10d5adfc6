package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load config from file into the config struct, config must be a pointer to the config struct.
// Values already set in config act as defaults. Environment variables override the file, with "."
// replaced by "_" (POSTGRES_ADDR overrides postgres.addr); variables from envFiles are loaded first
// without overriding the process environment. Missing env files are ignored.
func Load(file string, config any, envFiles ...string) error {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file %s: %v", f, err)
		}
	}

	v := viper.New()
	m := make(map[string]any)

	if err := mapstructure.Decode(config, &m); err != nil {
		return fmt.Errorf("mapstructure: %v", err)
	}

	if err := v.MergeConfigMap(m); err != nil {
		return fmt.Errorf("merge config map: %v", err)
	}

	v.SetConfigFile(file)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config from file %s: %v", file, err)
	}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("unmarshal config: %v", err)
	}

	return nil
}
