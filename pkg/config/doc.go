// Package config loads, validates and stores named limiter configurations.
//
// Documents are YAML or JSON files read through viper. RedisStore shares the
// same parameters between processes.
package config
