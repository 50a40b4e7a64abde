// Package config handles loading and validating Chatgate Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with CHATGATE_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Secrets (auth.secret, broker passwords, InfluxDB tokens) should be
//     supplied through the environment, not committed YAML
//   - The token signing secret must be at least 32 characters
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.AccessTokenTTL())
package config
