package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"google.golang.org/grpc"

	"github.com/supergoudvis116/joule-connector/internal/schema"
	"github.com/supergoudvis116/joule-connector/plugins/joule"
)

func jouleCmd(ctx context.Context, conn *grpc.ClientConn, args []string, jsonOutput bool) {
	out := outputMode{json: jsonOutput}

	switch args[0] {
	case "thermostats":
		resp := listThermostats(ctx, conn)
		if out.json {
			out.printJSON(resp)
			return
		}
		renderThermostats(out, resp, time.Now())
	case "entities":
		req := &joule.ListEntitiesRequest{}
		if len(args) > 1 {
			req.SerialNumber = lookupSerial(ctx, conn, args[1])
		}
		resp, err := schema.Invoke[joule.ListEntitiesRequest, joule.Entities](ctx, conn, joule.ServiceName, "ListEntities", req)
		if err != nil {
			fatal("list entities", err)
		}
		if out.json {
			out.printJSON(resp)
			return
		}
		renderEntities(out, resp)
	case "set":
		if len(args) < 3 {
			fatal("set", fmt.Errorf("usage: joule-cli set <thermostat> <celsius>"))
		}
		temp, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			fatal("set", fmt.Errorf("invalid temperature %q", args[2]))
		}
		serial := lookupSerial(ctx, conn, args[1])
		_, err = schema.Invoke[joule.SetTemperatureRequest, joule.Empty](ctx, conn, joule.ServiceName, "SetTemperature", &joule.SetTemperatureRequest{
			SerialNumber:       serial,
			TemperatureCelsius: temp,
		})
		if err != nil {
			fatal("set", err)
		}
		if out.json {
			out.printJSON(map[string]any{"serial_number": serial, "temperature_celsius": temp, "status": "ok"})
			return
		}
		fmt.Printf("ok: %s -> %.1f°C\n", serial, temp)
	case "mode":
		if len(args) < 3 {
			fatal("mode", fmt.Errorf("usage: joule-cli mode <thermostat> <hvac_mode>"))
		}
		serial := lookupSerial(ctx, conn, args[1])
		_, err := schema.Invoke[joule.SetHvacModeRequest, joule.Empty](ctx, conn, joule.ServiceName, "SetHvacMode", &joule.SetHvacModeRequest{
			SerialNumber: serial,
			HvacMode:     args[2],
		})
		if err != nil {
			fatal("mode", err)
		}
		fmt.Printf("ok: %s mode %s\n", serial, args[2])
	case "refresh":
		resp, err := schema.Invoke[joule.RefreshRequest, joule.RefreshResponse](ctx, conn, joule.ServiceName, "Refresh", &joule.RefreshRequest{})
		if err != nil {
			fatal("refresh", err)
		}
		if out.json {
			out.printJSON(resp)
			return
		}
		fmt.Printf("refreshed %d thermostats (%s)\n", resp.Thermostats, relativeTime(resp.LastUpdated, time.Now()))
	default:
		usage()
		os.Exit(2)
	}
}

func listThermostats(ctx context.Context, conn *grpc.ClientConn) *joule.ListThermostatsResponse {
	resp, err := schema.Invoke[joule.ListThermostatsRequest, joule.ListThermostatsResponse](ctx, conn, joule.ServiceName, "ListThermostats", &joule.ListThermostatsRequest{})
	if err != nil {
		fatal("list thermostats", err)
	}
	return resp
}

func lookupSerial(ctx context.Context, conn *grpc.ClientConn, input string) string {
	serial, err := resolveThermostat(input, listThermostats(ctx, conn).Thermostats)
	if err != nil {
		fatal("thermostat", err)
	}
	return serial
}

func renderThermostats(out outputMode, resp *joule.ListThermostatsResponse, now time.Time) {
	rows := [][]string{{"SERIAL", "NAME", "TEMP", "SETPOINT", "HUMIDITY", "HEATING", "ONLINE"}}
	for _, t := range resp.Thermostats {
		rows = append(rows, []string{
			t.SerialNumber,
			t.Name,
			celsius(t.TemperatureCelsius),
			celsius(t.SetpointCelsius),
			fmt.Sprintf("%d%%", t.HumidityPercent),
			yesNo(t.Heating),
			yesNo(t.Online),
		})
	}
	out.table(rows)

	state := "ok"
	if !resp.LastUpdateSuccess {
		state = "failed"
	}
	fmt.Fprintf(out.writer(), "\nlast update: %s (%s)\n", relativeTime(resp.LastUpdated, now), state)
}

func renderEntities(out outputMode, entities *joule.Entities) {
	rows := [][]string{{"ENTITY", "KIND", "STATE"}}
	for _, c := range entities.Climates {
		rows = append(rows, []string{c.UniqueID, "climate", fmt.Sprintf("%s %s -> %s", c.HVACAction, celsius(c.CurrentTemperature), celsius(c.TargetTemperature))})
	}
	for _, s := range entities.Sensors {
		state := "unavailable"
		if s.Available {
			state = strconv.FormatFloat(s.Value, 'f', -1, 64) + " " + s.Unit
		}
		rows = append(rows, []string{s.UniqueID, "sensor", state})
	}
	for _, b := range entities.BinarySensors {
		state := "off"
		if b.On {
			state = "on"
		}
		rows = append(rows, []string{b.UniqueID, "binary_sensor", state})
	}
	out.table(rows)
}
