// Package config loads the cardslot daemon configuration.
//
// Values come from three layers, later ones winning: built-in defaults, the
// YAML file, then CARDSLOT_* environment variables. Credentials (MQTT
// password, InfluxDB token) are expected to arrive through the environment.
//
// Usage:
//
//	cfg, err := config.Load(config.Path())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Slots.Count)
package config
