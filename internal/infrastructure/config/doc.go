// Package config handles loading and validating bus client configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Broker passwords should be set via environment variables
//     (GRAYLOGIC_MQTT_PASSWORD, GRAYLOGIC_AMQP_PASSWORD, GRAYLOGIC_NATS_PASSWORD)
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Instance, cfg.Messaging.Type)
package config
