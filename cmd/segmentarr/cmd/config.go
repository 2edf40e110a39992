package cmd

import (
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/segmentarr/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the configuration in YAML format.

Without a config file or SEGMENTARR_ variables this prints the defaults,
which makes a starting template:

  segmentarr config dump > config.yaml

Environment variables use the SEGMENTARR_ prefix and underscores for nesting.
Example: conversion.allow_dash -> SEGMENTARR_CONVERSION_ALLOW_DASH`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return dumpConfig(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

func dumpConfig(out io.Writer, c *config.Config) error {
	data, err := yaml.Marshal(toMap(c))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	header := []string{
		"# segmentarr configuration",
		"#",
		"# Duration format: 30s, 5m, 1h",
		"#",
		"# Environment variable overrides:",
		"#   SEGMENTARR_SERVER_HOST, SEGMENTARR_SERVER_PORT",
		"#   SEGMENTARR_DATABASE_DRIVER, SEGMENTARR_DATABASE_DSN",
		"#   SEGMENTARR_STORAGE_MEDIA_ROOT, SEGMENTARR_STORAGE_HLS_ROOT, SEGMENTARR_STORAGE_DASH_ROOT",
		"#   SEGMENTARR_CONVERSION_ALLOW_HLS, SEGMENTARR_CONVERSION_ALLOW_DASH",
		"#   SEGMENTARR_LOGGING_LEVEL, SEGMENTARR_LOGGING_FORMAT",
		"#",
		"",
	}
	if _, err := fmt.Fprintln(out, strings.Join(header, "\n")); err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

// toMap converts a config struct to a map keyed by mapstructure tags, with
// durations in their readable form.
func toMap(v any) map[string]any {
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	result := make(map[string]any, val.NumField())
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		if !fieldType.IsExported() {
			continue
		}
		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = strings.ToLower(fieldType.Name)
		}
		result[key] = toValue(field)
	}
	return result
}

func toValue(field reflect.Value) any {
	if d, ok := field.Interface().(time.Duration); ok {
		return d.String()
	}
	switch field.Kind() {
	case reflect.Struct:
		return toMap(field.Interface())
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.Struct {
			return field.Interface()
		}
		items := make([]any, field.Len())
		for i := range items {
			items[i] = toMap(field.Index(i).Interface())
		}
		return items
	default:
		return field.Interface()
	}
}
