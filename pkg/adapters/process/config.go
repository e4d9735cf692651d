package process

import (
	"fmt"
	"strings"
)

// Config describes the external command that runs statements.
type Config struct {
	Command string            `mapstructure:"command" yaml:"command" json:"command"`
	Args    []string          `mapstructure:"args" yaml:"args" json:"args"`
	Env     map[string]string `mapstructure:"env" yaml:"env" json:"env"`
	// Dir is the working directory of the command.
	Dir string `mapstructure:"dir" yaml:"dir" json:"dir"`
	// TransientExitCodes are exit codes that mean "try again later".
	// Defaults to 75 (EX_TEMPFAIL).
	TransientExitCodes []int `mapstructure:"transient_exit_codes" yaml:"transient_exit_codes" json:"transient_exit_codes"`
}

// Enabled reports whether a command is configured.
func (c Config) Enabled() bool { return c.Command != "" }

// Validate checks the environment keys; values are passed through untouched.
func (c Config) Validate() error {
	for k := range c.Env {
		if k == "" || strings.ContainsAny(k, "= \t\n") {
			return fmt.Errorf("invalid environment variable name %q", k)
		}
		if strings.HasPrefix(strings.ToUpper(k), envPrefix) {
			return fmt.Errorf("environment variable %q uses the reserved %s prefix", k, envPrefix)
		}
	}
	return nil
}
