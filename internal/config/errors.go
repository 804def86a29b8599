package config

import "errors"

// Configuration error types
var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrConfigFile    = errors.New("failed to read config file")
)
