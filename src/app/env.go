package app

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

type envVars struct {
	Environment string `split_words:"true" default:"dev"`

	DataDir     string `split_words:"true" default:"./data"`
	PoolSize    uint64 `split_words:"true" default:"128"`
	MetricsAddr string `split_words:"true" default:":9187"`
}

// mustLoadEnv reads an optional .env file (configPath overrides the default
// lookup) and then the PAGEDB_* environment variables on top.
func mustLoadEnv(configPath string) envVars {
	var err error
	if configPath != "" {
		err = godotenv.Load(configPath)
	} else {
		err = godotenv.Load()
	}

	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(err)
	}

	var env envVars
	envconfig.MustProcess("PAGEDB", &env)

	if env.Environment != EnvDev && env.Environment != EnvProd {
		panic("invalid environment: " + env.Environment)
	}

	if env.PoolSize == 0 {
		panic("pool size must be greater than zero")
	}

	return env
}
