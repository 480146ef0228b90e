package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/watchroom/watchroom/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing watchroom configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  watchroom config dump > config.yaml

Configuration can be set via:
  - Config file (.watchroom.yaml, /etc/watchroom/config.yaml)
  - Environment variables (WATCHROOM_SERVER_PORT, WATCHROOM_DATABASE_DSN, etc.)
  - Command-line flags (for some options)

Environment variables use the WATCHROOM_ prefix and underscores for nesting.
Example: server.port -> WATCHROOM_SERVER_PORT`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a config struct to a map keyed by mapstructure tags, with
// durations rendered in their human-readable form.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		switch v := field.Interface().(type) {
		case time.Duration:
			result[key] = v.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	// Defaults only: an isolated viper so the user's config file and
	// environment do not leak into the template.
	v := viper.New()
	config.SetDefaults(v)

	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	yamlData, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Println("# watchroom Configuration File")
	fmt.Println("# ============================")
	fmt.Println("#")
	fmt.Println("# All values shown below are defaults.")
	fmt.Println("#")
	fmt.Println("# Environment variable overrides:")
	fmt.Println("#   WATCHROOM_SERVER_HOST, WATCHROOM_SERVER_PORT")
	fmt.Println("#   WATCHROOM_DATABASE_DRIVER, WATCHROOM_DATABASE_DSN")
	fmt.Println("#   WATCHROOM_STORAGE_MEDIA_DIR, WATCHROOM_STORAGE_DATA_DIR")
	fmt.Println("#   WATCHROOM_LOGGING_LEVEL, WATCHROOM_LOGGING_FORMAT")
	fmt.Println("#   etc.")
	fmt.Println("#")
	fmt.Println("")
	fmt.Print(string(yamlData))

	return nil
}
