// Package config provides type-safe environment variable loading with caching
// using Go generics. Each configuration type is loaded once and cached for
// subsequent calls.
//
// The package loads a .env file on first use and uses caarlos0/env to parse
// environment variables into struct fields:
//
//	var cfg proxy.Config
//	config.MustLoad(&cfg)
package config
