package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/rxtech-lab/argo-papertrade/internal/engine"
	"github.com/rxtech-lab/argo-papertrade/internal/feed"
	"github.com/rxtech-lab/argo-papertrade/internal/strategy"
	"github.com/rxtech-lab/argo-papertrade/pkg/schema"
	"gopkg.in/yaml.v3"
)

const (
	configDir    = "./config"
	schemaName   = "papertrade-engine-config.json"
	sampleName   = "papertrade-engine-config.yaml"
	strategyDir  = "strategies"
	feedDir      = "feeds"
	schemaPrefix = "# yaml-language-server: $schema="
)

func getSchemaReference(name string) string {
	return schemaPrefix + name + "\n"
}

func validatePaths(schemaPath, samplePath string) error {
	if schemaPath == "" {
		return fmt.Errorf("schema path cannot be empty")
	}

	if samplePath == "" {
		return fmt.Errorf("sample config path cannot be empty")
	}

	return nil
}

func validateSchemaName(name string) error {
	if name == "" {
		return fmt.Errorf("schema name cannot be empty")
	}

	if filepath.Ext(name) != ".json" {
		return fmt.Errorf("schema name %q must have .json extension", name)
	}

	return nil
}

func writeFile(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(path, content, 0o644); err != nil { //nolint:gosec // schema files are meant to be readable
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}

func generateSchemaFile(config engine.Config, path string) error {
	schemaJSON, err := config.GenerateSchemaJSON()
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	return writeFile(path, []byte(schemaJSON))
}

// generateSampleConfig writes config as YAML to path unless the file already
// exists.
func generateSampleConfig(config engine.Config, path, schemaName string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	yamlBytes, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal sample config to yaml: %w", err)
	}

	content := append([]byte(getSchemaReference(schemaName)), yamlBytes...)

	if err := writeFile(path, content); err != nil {
		return err
	}

	log.Printf("Sample config successfully generated at %s", path)

	return nil
}

// generateStrategySchemas writes one parameter schema per registered strategy.
func generateStrategySchemas(dir string) error {
	for _, name := range strategy.NewDefaultRegistry().Names() {
		params, ok := strategy.DefaultParams(name)
		if !ok {
			continue
		}

		schemaJSON, err := schema.ToIndentedJSONSchema(params, name)
		if err != nil {
			return fmt.Errorf("failed to generate schema for strategy %s: %w", name, err)
		}

		if err := writeFile(filepath.Join(dir, name+".json"), []byte(schemaJSON)); err != nil {
			return err
		}
	}

	return nil
}

func generateFeedSchemas(dir string) error {
	feeds := map[string]any{
		"websocket": feed.WebSocketFeedConfig{}, //nolint:exhaustruct
		"binance":   feed.BinanceTradeFeedConfig{}, //nolint:exhaustruct
	}

	for name, config := range feeds {
		schemaJSON, err := schema.ToIndentedJSONSchema(config, strings.Join([]string{name, "feed", "config"}, "-"))
		if err != nil {
			return fmt.Errorf("failed to generate schema for feed %s: %w", name, err)
		}

		if err := writeFile(filepath.Join(dir, name+".json"), []byte(schemaJSON)); err != nil {
			return err
		}
	}

	return nil
}

func main() {
	config := engine.DefaultConfig()

	schemaPath := filepath.Join(configDir, schemaName)
	samplePath := filepath.Join(configDir, sampleName)

	if err := validatePaths(schemaPath, samplePath); err != nil {
		log.Fatal(err)
	}

	if err := validateSchemaName(schemaName); err != nil {
		log.Fatal(err)
	}

	if err := generateSchemaFile(config, schemaPath); err != nil {
		log.Fatal(err)
	}

	if err := generateSampleConfig(config, samplePath, schemaName); err != nil {
		log.Fatal(err)
	}

	if err := generateStrategySchemas(filepath.Join(configDir, strategyDir)); err != nil {
		log.Fatal(err)
	}

	if err := generateFeedSchemas(filepath.Join(configDir, feedDir)); err != nil {
		log.Fatal(err)
	}

	log.Printf("Schema successfully generated at %s", schemaPath)
}
