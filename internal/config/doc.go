// Package config provides configuration management for the kanban hub,
// the activity relay and the event emitter.
//
// Configuration is loaded from environment variables using the env package.
// All configuration values have defaults suitable for local development.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("hub will listen on %s\n", cfg.GetHubAddr())
package config
