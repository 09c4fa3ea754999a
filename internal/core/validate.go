package core

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/supergoudvis116/joule-connector/internal/schema"
)

var (
	pluginIDPattern  = regexp.MustCompile(`^[a-z][a-z0-9_]+$`)
	dashboardPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)
)

// ValidatePlugins checks the plugin contract at startup: well-formed unique
// IDs, services that exist in the embedded schemas under the plugin's
// package, and dashboards that are valid JSON.
func ValidatePlugins(plugins []Plugin) error {
	seen := make(map[string]bool, len(plugins))
	for _, plugin := range plugins {
		id := plugin.ID()
		if !pluginIDPattern.MatchString(id) {
			return fmt.Errorf("plugin id %q does not match %s", id, pluginIDPattern)
		}
		if seen[id] {
			return fmt.Errorf("duplicate plugin id: %s", id)
		}
		seen[id] = true

		manifest := plugin.Manifest()
		if manifest.PluginID != id {
			return fmt.Errorf("plugin id mismatch: id=%q manifest=%q", id, manifest.PluginID)
		}
		for _, svc := range manifest.Services {
			if !strings.HasPrefix(svc, "joule.plugins."+id+".") {
				return fmt.Errorf("plugin %s service %q must live under joule.plugins.%s", id, svc, id)
			}
			if _, err := schema.FindService(svc); err != nil {
				return fmt.Errorf("plugin %s: %w", id, err)
			}
		}
		for _, dash := range plugin.Dashboards() {
			if !dashboardPattern.MatchString(dash.Name) {
				return fmt.Errorf("plugin %s dashboard name %q does not match %s", id, dash.Name, dashboardPattern)
			}
			if !json.Valid(dash.JSON) {
				return fmt.Errorf("plugin %s dashboard %s is not valid json", id, dash.Name)
			}
		}
	}
	return nil
}
