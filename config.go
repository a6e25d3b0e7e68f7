package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the configuration struct for the service.
type Config struct {
	// Pairs represents the tracked currency pairs.
	Pairs []string
	// OANDAAPIKey is the brokerage API token.
	OANDAAPIKey string
	// OANDAAccountID is the brokerage account identifier.
	OANDAAccountID string
	// OANDABaseURL overrides the brokerage endpoint, defaulting to practice.
	OANDABaseURL string
	// SentimentFeedURL is the primary sentiment feed endpoint.
	SentimentFeedURL string
	// SentimentFeedAPIKey is the primary sentiment feed token.
	SentimentFeedAPIKey string
	// SentimentFallbackURL is the optional fallback feed endpoint.
	SentimentFallbackURL string
	// DatabaseEndpoint is the rqlite connection endpoint.
	DatabaseEndpoint string
	// DatabaseUser is the database user.
	DatabaseUser string
	// DatabasePass is the database user pass.
	DatabasePass string
	// WeightsFilepath is the filepath to the YAML weights file. Empty uses
	// the built-in defaults.
	WeightsFilepath string
	// ScanIntervalMinutes is the cadence of the signal scan cycle.
	ScanIntervalMinutes int
	// MonitorIntervalMinutes is the cadence of the monitor cycle.
	MonitorIntervalMinutes int

	registeredFlags map[string]bool
}

// Validate asserts the config sane inputs.
func (cfg *Config) Validate() error {
	var errs error

	if len(cfg.Pairs) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no pairs provided for signal service"))
	}
	if cfg.OANDAAPIKey == "" {
		errs = errors.Join(errs, fmt.Errorf("oanda api key cannot be an empty string"))
	}
	if cfg.OANDAAccountID == "" {
		errs = errors.Join(errs, fmt.Errorf("oanda account id cannot be an empty string"))
	}
	if cfg.SentimentFeedURL == "" {
		errs = errors.Join(errs, fmt.Errorf("sentiment feed url cannot be an empty string"))
	}
	if cfg.DatabaseEndpoint == "" {
		errs = errors.Join(errs, fmt.Errorf("database endpoint cannot be an empty string"))
	}
	if cfg.ScanIntervalMinutes <= 0 {
		errs = errors.Join(errs, fmt.Errorf("scan interval must be positive"))
	}
	if cfg.MonitorIntervalMinutes <= 0 {
		errs = errors.Join(errs, fmt.Errorf("monitor interval must be positive"))
	}

	return errs
}

// registerFlag registers command line arguments of any type and tracks them to avoid reregistration.
func (cfg *Config) registerFlag(name string, value interface{}, usage string) error {
	if cfg.registeredFlags == nil {
		cfg.registeredFlags = make(map[string]bool)
	}

	if cfg.registeredFlags[name] {
		return nil
	}

	cfg.registeredFlags[name] = true

	defValue := os.Getenv(name)
	val := reflect.ValueOf(value)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("%s: value must be a non-nil pointer", name)
	}

	switch val.Elem().Kind() {
	case reflect.String:
		flag.StringVar(value.(*string), name, defValue, usage)
	case reflect.Bool:
		var def bool
		if defValue != "" {
			def, _ = strconv.ParseBool(defValue)
		}
		flag.BoolVar(value.(*bool), name, def, usage)
	case reflect.Int:
		var def int
		if defValue != "" {
			def, _ = strconv.Atoi(defValue)
		}
		flag.IntVar(value.(*int), name, def, usage)
	case reflect.Slice:
		// Only handle []string
		if val.Elem().Type().Elem().Kind() == reflect.String {
			var def []string
			if defValue != "" {
				def = strings.Split(defValue, ",")
			}
			flag.Func(name, usage, func(s string) error {
				*value.(*[]string) = strings.Split(s, ",")
				return nil
			})
			// Set default if not provided via flag
			if len(def) > 0 {
				*value.(*[]string) = def
			}
		} else {
			return fmt.Errorf("%s: unsupported slice type", name)
		}
	default:
		return fmt.Errorf("%s: unsupported type", name)
	}

	return nil
}

// loadConfig loads the configuration from environment variables and command line flags.
func loadConfig(cfg *Config, path string) error {
	if path == "" {
		path = ".env"
	}

	// Check if the expected .env file exists before loading it.
	_, err := os.Stat(path)
	if err == nil {
		err := godotenv.Load(path)
		if err != nil {
			return fmt.Errorf("loading .env file: %w", err)
		}
	}

	// Register command line arguments using loaded environment variables as defaults.
	err = cfg.registerFlag("pairs", &cfg.Pairs, "the tracked currency pairs")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("oandaapikey", &cfg.OANDAAPIKey, "the oanda api key")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("oandaaccountid", &cfg.OANDAAccountID, "the oanda account id")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("oandabaseurl", &cfg.OANDABaseURL, "the oanda endpoint override")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("sentimentfeedurl", &cfg.SentimentFeedURL, "the primary sentiment feed url")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("sentimentfeedapikey", &cfg.SentimentFeedAPIKey, "the primary sentiment feed api key")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("sentimentfallbackurl", &cfg.SentimentFallbackURL, "the fallback sentiment feed url")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("databaseendpoint", &cfg.DatabaseEndpoint, "the rqlite database endpoint")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("databaseuser", &cfg.DatabaseUser, "the database user")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("databasepass", &cfg.DatabasePass, "the database pass")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("weightsfilepath", &cfg.WeightsFilepath, "the filepath to the yaml weights file")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("scanintervalminutes", &cfg.ScanIntervalMinutes, "the scan cycle cadence in minutes")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("monitorintervalminutes", &cfg.MonitorIntervalMinutes, "the monitor cycle cadence in minutes")
	if err != nil {
		return err
	}

	// Parse command-line flags.
	flag.Parse()

	if cfg.ScanIntervalMinutes == 0 {
		cfg.ScanIntervalMinutes = 15
	}
	if cfg.MonitorIntervalMinutes == 0 {
		cfg.MonitorIntervalMinutes = 2
	}

	return cfg.Validate()
}
