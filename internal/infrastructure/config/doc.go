// Package config handles loading and validating mini fulfilment centre configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Loading an optional .env file for credentials
//   - Overriding with MINIFC_* environment variables
//   - Per-kind defaults for arm and belt devices
//   - Validation of required fields
//
// Security Considerations:
//   - MQTT credentials and the InfluxDB token should come from the environment
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/arm.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Device.ID)
package config
