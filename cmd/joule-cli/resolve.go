package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/supergoudvis116/joule-connector/plugins/joule"
)

func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	replacer := strings.NewReplacer(" ", "_", "-", "_")
	name = replacer.Replace(name)
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	return name
}

// resolveThermostat accepts a serial number or a thermostat name.
func resolveThermostat(input string, thermostats []joule.ThermostatInfo) (string, error) {
	for _, t := range thermostats {
		if t.SerialNumber == input {
			return t.SerialNumber, nil
		}
	}
	options := make(map[string]string, len(thermostats))
	for _, t := range thermostats {
		if t.Name != "" {
			options[t.Name] = t.SerialNumber
		}
	}
	return resolveNamedID("thermostat", input, options)
}

func resolveNamedID(kind, input string, options map[string]string) (string, error) {
	needle := normalizeName(input)
	for label, id := range options {
		if normalizeName(label) == needle {
			return id, nil
		}
	}
	available := make([]string, 0, len(options))
	for label := range options {
		available = append(available, label)
	}
	sort.Strings(available)
	return "", fmt.Errorf("%s %q not found. Available: %s", kind, input, strings.Join(available, ", "))
}
