package params

import (
	"io/ioutil"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

var log = logrus.WithField("prefix", "params")

// LoadConfigFile loads a YAML parameter file on top of the mainnet
// defaults and installs the result as the active gateway config.
// Unknown fields are rejected so that typos in operator files surface
// instead of silently falling back to defaults.
func LoadConfigFile(configFilePath string) {
	yamlFile, err := ioutil.ReadFile(configFilePath) // #nosec G304
	if err != nil {
		log.WithError(err).Fatal("Failed to read gateway config file.")
	}
	conf := MainnetConfig().Copy()
	if err := yaml.UnmarshalStrict(yamlFile, conf); err != nil {
		log.WithError(err).Fatal("Failed to parse gateway config file.")
	}
	OverrideGatewayConfig(conf)
}
