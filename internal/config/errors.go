package config

import "errors"

// Sentinel errors for configuration loading.
var (
	ErrLoadFile   = errors.New("load config file")
	ErrLoadEnv    = errors.New("load config env")
	ErrUnmarshal  = errors.New("unmarshal config")
	ErrValidation = errors.New("invalid config")
)
