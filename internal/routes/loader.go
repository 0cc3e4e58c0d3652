// Package routes loads the policies file that attaches policy
// configurations to Envoy route names.
package routes

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/flexproc/flexproc/internal/authority"
	"github.com/flexproc/flexproc/internal/kernel"
)

// File is the top-level structure of the policies YAML file.
type File struct {
	Routes []Route `yaml:"routes"`
}

// Route attaches one policy configuration to one route key.
type Route struct {
	// Name is the Envoy route name the policy applies to.
	Name string `yaml:"name"`

	// Policy is the raw policy configuration object. It is re-encoded to
	// JSON and handed to the configuration authority unchanged, so the
	// authority keeps a single parse/validate path regardless of where
	// configuration comes from.
	Policy map[string]interface{} `yaml:"policy"`
}

// Load parses the policies file and registers a loaded authority per route.
// Any invalid route configuration fails the whole load: the engine refuses
// to start with a partially-valid policy set.
func Load(path string, k *kernel.Kernel) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read policies file: %w", err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse policies file: %w", err)
	}

	if len(file.Routes) == 0 {
		return fmt.Errorf("policies file declares no routes")
	}

	seen := make(map[string]bool, len(file.Routes))
	for _, route := range file.Routes {
		if route.Name == "" {
			return fmt.Errorf("route with empty name in policies file")
		}
		if seen[route.Name] {
			return fmt.Errorf("duplicate route %q in policies file", route.Name)
		}
		seen[route.Name] = true

		raw, err := json.Marshal(route.Policy)
		if err != nil {
			return fmt.Errorf("route %q: failed to encode policy configuration: %w", route.Name, err)
		}

		auth := authority.New()
		if err := auth.Load(raw); err != nil {
			return fmt.Errorf("route %q: %w", route.Name, err)
		}

		k.RegisterRoute(route.Name, auth)
		slog.Info("Policy attached to route", "route", route.Name)
	}

	return nil
}
