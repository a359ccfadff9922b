package policy

import (
	"fmt"

	"github.com/spf13/viper"
)

// File is the on-disk shape of the endpoint policy: an ordered rule list plus
// the sensitive-path set.
type File struct {
	Rules          []Rule   `mapstructure:"rules"`
	SensitivePaths []string `mapstructure:"sensitive_paths"`
}

// LoadFile reads a YAML policy file. Rule order in the file is the match
// precedence order.
func LoadFile(path string) (*File, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("policy: parse %s: %w", path, err)
	}
	return &f, nil
}
