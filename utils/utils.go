package utils

import (
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/gobitfly/tabletstore/config"
	"github.com/gobitfly/tabletstore/types"
)

var validate = validator.New()

// ReadConfig will process a configuration. The embedded defaults are applied
// first, then the file at path (if any), then the environment.
func ReadConfig(cfg *types.Config, path string) error {
	if err := yaml.Unmarshal([]byte(config.DefaultConfigYml), cfg); err != nil {
		return errors.Wrap(err, "error decoding default config")
	}

	if path != "" {
		if err := readConfigFile(cfg, path); err != nil {
			return err
		}
	}

	if err := readConfigEnv(cfg); err != nil {
		return errors.Wrap(err, "error reading config from environment")
	}

	cfg.Session.FlushMode = strings.ToUpper(cfg.Session.FlushMode)
	if err := validate.Struct(cfg); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	return nil
}

func readConfigFile(cfg *types.Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "error opening config file %v", path)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	err = decoder.Decode(cfg)
	if err != nil {
		return errors.Wrapf(err, "error decoding config file %v", path)
	}

	return nil
}

func readConfigEnv(cfg *types.Config) error {
	return envconfig.Process("", cfg)
}

// ConfigureLogging applies the logging section of the config to the standard logger
func ConfigureLogging(cfg *types.Config) error {
	if cfg.Logging.Level != "" {
		level, err := logrus.ParseLevel(cfg.Logging.Level)
		if err != nil {
			return errors.Wrap(err, "invalid log level")
		}
		logrus.SetLevel(level)
	}
	if cfg.Logging.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
