// Package config provides loading and environment overlay for oplog
// configuration. It exposes a Default() baseline that Load and FromEnv
// refine.
//
// Example:
//
//	cfg, err := config.Load("/etc/oplog.yaml")
//	if err != nil { /* handle */ }
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil { /* handle */ }
//	rt, _ := runtime.Open(runtime.Options{Config: cfg})
//	defer rt.Close()
package config
