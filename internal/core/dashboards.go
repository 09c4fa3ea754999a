package core

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
)

// DashboardPath is the HTTP path a plugin dashboard is served under.
func DashboardPath(pluginID, name string) string {
	return "/dashboards/" + pluginID + "/" + name + ".json"
}

// DashboardsMap keys every plugin dashboard by its HTTP path.
func DashboardsMap(plugins []Plugin) map[string][]byte {
	result := make(map[string][]byte)
	for _, plugin := range plugins {
		for _, dash := range plugin.Dashboards() {
			result[DashboardPath(plugin.ID(), dash.Name)] = dash.JSON
		}
	}
	return result
}

// WriteDashboards provisions dashboards as <dir>/<plugin>/<name>.json for
// Grafana's file provider. Unchanged files are left alone so Grafana does not
// reload them; an empty dir disables writing.
func WriteDashboards(dir string, plugins []Plugin) error {
	if dir == "" {
		return nil
	}
	for _, plugin := range plugins {
		for _, dash := range plugin.Dashboards() {
			path := filepath.Join(dir, plugin.ID(), dash.Name+".json")
			if err := writeIfChanged(path, dash.JSON); err != nil {
				return fmt.Errorf("write dashboard %s: %w", path, err)
			}
		}
	}
	return nil
}

func writeIfChanged(path string, data []byte) error {
	if current, err := os.ReadFile(path); err == nil && bytes.Equal(current, data) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".dashboard-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
