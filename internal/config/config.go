// Package config layers settings onto the CLI options struct and
// watches files for changes. Precedence: CLI flags > environment >
// TOML settings file > compiled defaults.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/lanview/camnode/internal/logging"
)

// EnvPrefix namespaces every environment override, so the option
// tagged env:"PORT" reads CAMNODE_PORT. A field may additionally carry
// an envAlias tag naming a bare legacy variable (APP_PORT); the
// prefixed form wins when both are set.
const EnvPrefix = "CAMNODE_"

// LoadConfig applies the TOML settings file and environment overrides
// onto opts. Fields the user set explicitly on the command line are
// left untouched; cmd may be nil when no flag information exists.
func LoadConfig(opts any, cmd *cobra.Command) error {
	v := reflect.ValueOf(opts).Elem()
	t := v.Type()

	changedFlags := make(map[string]bool)
	if cmd != nil {
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			if f.Changed {
				changedFlags[f.Name] = true
			}
		})
	}

	// The settings file path is itself an option.
	var settingsPath string
	for i := 0; i < v.NumField(); i++ {
		if t.Field(i).Name == "Config" {
			settingsPath = v.Field(i).String()
			break
		}
	}

	if settingsPath != "" {
		if data, err := os.ReadFile(settingsPath); err == nil {
			var settings map[string]any
			if err := toml.Unmarshal(data, &settings); err != nil {
				return fmt.Errorf("parse settings file %s: %w", settingsPath, err)
			}
			for i := 0; i < v.NumField(); i++ {
				field := v.Field(i)
				fieldType := t.Field(i)
				if changedFlags[fieldNameToFlag(fieldType.Name)] {
					continue
				}
				if tomlPath := fieldType.Tag.Get("toml"); tomlPath != "" {
					if value := getNestedValue(settings, tomlPath); value != nil {
						setFieldValue(field, value)
					}
				}
			}
		}
	}

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		if changedFlags[fieldNameToFlag(fieldType.Name)] {
			continue
		}

		value := ""
		if alias := fieldType.Tag.Get("envAlias"); alias != "" {
			value = os.Getenv(alias)
		}
		if envKey := fieldType.Tag.Get("env"); envKey != "" {
			if prefixed := os.Getenv(EnvPrefix + envKey); prefixed != "" {
				value = prefixed
			}
		}
		if value != "" {
			setFieldValueFromString(field, value)
		}
	}

	return nil
}

// fieldNameToFlag converts a struct field name to its CLI flag name,
// "LoggingLevel" -> "logging-level".
func fieldNameToFlag(fieldName string) string {
	var result []rune
	for i, r := range fieldName {
		if i > 0 && unicode.IsUpper(r) {
			result = append(result, '-')
		}
		result = append(result, unicode.ToLower(r))
	}
	return string(result)
}

// getNestedValue resolves a dotted path inside the decoded TOML tree.
func getNestedValue(data map[string]any, path string) any {
	parts := strings.Split(path, ".")
	current := data
	for i, part := range parts {
		if i == len(parts)-1 {
			return current[part]
		}
		next, ok := current[part].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	return nil
}

func setFieldValue(field reflect.Value, value any) {
	if !field.CanSet() {
		return
	}
	switch field.Kind() {
	case reflect.String:
		if s, ok := value.(string); ok {
			field.SetString(s)
		}
	case reflect.Bool:
		if b, ok := value.(bool); ok {
			field.SetBool(b)
		}
	case reflect.Int:
		if i, ok := value.(int64); ok {
			field.SetInt(i)
		} else if i, intOk := value.(int); intOk {
			field.SetInt(int64(i))
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			if arr, ok := value.([]any); ok {
				slice := make([]string, len(arr))
				for i, v := range arr {
					if s, strOk := v.(string); strOk {
						slice[i] = s
					}
				}
				field.Set(reflect.ValueOf(slice))
			}
		}
	}
}

func setFieldValueFromString(field reflect.Value, value string) {
	if !field.CanSet() {
		return
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		if b, err := strconv.ParseBool(value); err == nil {
			field.SetBool(b)
		}
	case reflect.Int:
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			field.SetInt(i)
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			slice := make([]string, len(parts))
			for i, part := range parts {
				slice[i] = strings.TrimSpace(part)
			}
			field.Set(reflect.ValueOf(slice))
		}
	}
}

// LoadLoggingConfig reads the [logging] table from the settings file.
// Missing or unreadable files yield the defaults, so logging always
// comes up.
func LoadLoggingConfig(settingsPath string) logging.Config {
	cfg := logging.Config{
		Level:   "info",
		Format:  "text",
		Modules: make(map[string]string),
	}
	if settingsPath == "" {
		return cfg
	}
	data, err := os.ReadFile(settingsPath)
	if err != nil {
		return cfg
	}

	var raw struct {
		Logging map[string]string `toml:"logging"`
	}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return cfg
	}
	for key, value := range raw.Logging {
		switch key {
		case "level":
			cfg.Level = value
		case "format":
			cfg.Format = value
		default:
			// Any other key pins one module's level.
			cfg.Modules[key] = value
		}
	}
	return cfg
}
