package main

import (
	"strings"

	"qencode/internal/config"
)

type commandContext struct {
	configFlag *string
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

// loadConfig reads the configuration file and applies overrides. Each call
// loads afresh so per-command flags never leak between invocations.
func (c *commandContext) loadConfig(overrides ...config.Override) (*config.Config, string, bool, error) {
	var path string
	if c.configFlag != nil {
		path = strings.TrimSpace(*c.configFlag)
	}
	return config.Load(path, overrides...)
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
