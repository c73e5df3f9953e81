package app

import "errors"

// Config holds everything an App instance needs to run.
type Config struct {
	PlanPaths []string          // yaml plan files or directories
	Vars      map[string]string // ${VAR} overrides, win over the environment

	ReportPath string // optional JSON results file
	StatusPort int    // 0 disables the status server

	LogFormat string
	LogLevel  string
}

// NewConfig validates a Config.
func NewConfig(cfg Config) (*Config, error) {
	if len(cfg.PlanPaths) == 0 {
		return nil, errors.New("at least one plan path is required")
	}
	return &cfg, nil
}
