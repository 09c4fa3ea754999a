package joule

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/supergoudvis116/joule-connector/internal/schema"
)

const ServiceName = "joule.plugins.joule.v1.JouleService"

// ThermostatInfo is the wire form of a Thermostat.
type ThermostatInfo struct {
	SerialNumber       string  `json:"serial_number"`
	DeviceID           string  `json:"device_id"`
	Name               string  `json:"name"`
	Model              string  `json:"model"`
	SoftwareVersion    string  `json:"software_version"`
	Online             bool    `json:"online"`
	Heating            bool    `json:"heating"`
	TemperatureCelsius float64 `json:"temperature_celsius"`
	SetpointCelsius    float64 `json:"setpoint_celsius"`
	HumidityPercent    int32   `json:"humidity_percent"`
	RegulationMode     int32   `json:"regulation_mode"`
}

type ListThermostatsRequest struct{}

type ListThermostatsResponse struct {
	Thermostats       []ThermostatInfo `json:"thermostats"`
	LastUpdated       string           `json:"last_updated"`
	LastUpdateSuccess bool             `json:"last_update_success"`
}

type GetThermostatRequest struct {
	SerialNumber string `json:"serial_number"`
}

type GetThermostatResponse struct {
	Thermostat *ThermostatInfo `json:"thermostat,omitempty"`
	Climate    *Climate        `json:"climate,omitempty"`
}

type ListEntitiesRequest struct {
	SerialNumber string `json:"serial_number"`
}

type SetTemperatureRequest struct {
	SerialNumber       string  `json:"serial_number"`
	TemperatureCelsius float64 `json:"temperature_celsius"`
}

type SetHvacModeRequest struct {
	SerialNumber string `json:"serial_number"`
	HvacMode     string `json:"hvac_mode"`
}

type SetPresetModeRequest struct {
	SerialNumber string `json:"serial_number"`
	PresetMode   string `json:"preset_mode"`
}

// Empty is the response of the climate commands.
type Empty struct{}

type RefreshRequest struct{}

type RefreshResponse struct {
	Thermostats int32  `json:"thermostats"`
	LastUpdated string `json:"last_updated"`
}

func ThermostatInfoFor(t Thermostat) ThermostatInfo {
	return ThermostatInfo{
		SerialNumber:       t.SerialNumber,
		DeviceID:           t.GUID,
		Name:               t.Name,
		Model:              t.Model,
		SoftwareVersion:    t.SoftwareVersion,
		Online:             t.Online,
		Heating:            t.Heating,
		TemperatureCelsius: Celsius(t.Temperature),
		SetpointCelsius:    Celsius(t.SetPointTemperature),
		HumidityPercent:    int32(t.Humidity),
		RegulationMode:     int32(t.RegulationMode),
	}
}

type service struct {
	coordinator *Coordinator
	commands    *Commands
}

// RegisterJouleService exposes the thermostat API. A nil coordinator yields a
// service that answers FailedPrecondition.
func RegisterJouleService(server grpc.ServiceRegistrar, coordinator *Coordinator, commands *Commands) error {
	s := &service{coordinator: coordinator, commands: commands}
	svc := schema.NewService(ServiceName)
	schema.Handle(svc, "ListThermostats", s.ListThermostats)
	schema.Handle(svc, "GetThermostat", s.GetThermostat)
	schema.Handle(svc, "ListEntities", s.ListEntities)
	schema.Handle(svc, "SetTemperature", s.SetTemperature)
	schema.Handle(svc, "SetHvacMode", s.SetHvacMode)
	schema.Handle(svc, "SetPresetMode", s.SetPresetMode)
	schema.Handle(svc, "Refresh", s.Refresh)
	return svc.Register(server)
}

func (s *service) ready() error {
	if s.coordinator == nil || s.commands == nil {
		return status.Error(codes.FailedPrecondition, "joule client not configured")
	}
	return nil
}

func (s *service) ListThermostats(ctx context.Context, _ *ListThermostatsRequest) (*ListThermostatsResponse, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	snap := s.coordinator.Snapshot()
	resp := &ListThermostatsResponse{
		Thermostats:       make([]ThermostatInfo, 0, len(snap.Thermostats)),
		LastUpdated:       formatTime(snap.LastUpdated),
		LastUpdateSuccess: snap.LastUpdateSuccess,
	}
	for _, t := range snap.Thermostats {
		resp.Thermostats = append(resp.Thermostats, ThermostatInfoFor(t))
	}
	return resp, nil
}

func (s *service) GetThermostat(ctx context.Context, req *GetThermostatRequest) (*GetThermostatResponse, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if req.SerialNumber == "" {
		return nil, status.Error(codes.InvalidArgument, "serial_number is required")
	}

	t, ok := s.coordinator.Thermostat(req.SerialNumber)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "thermostat %s not found", req.SerialNumber)
	}
	info := ThermostatInfoFor(t)
	climate := ClimateFor(t)
	return &GetThermostatResponse{Thermostat: &info, Climate: &climate}, nil
}

func (s *service) ListEntities(ctx context.Context, req *ListEntitiesRequest) (*Entities, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	if req.SerialNumber != "" {
		t, ok := s.coordinator.Thermostat(req.SerialNumber)
		if !ok {
			return nil, status.Errorf(codes.NotFound, "thermostat %s not found", req.SerialNumber)
		}
		entities := EntitiesFor([]Thermostat{t})
		return &entities, nil
	}
	entities := EntitiesFor(s.coordinator.Snapshot().Thermostats)
	return &entities, nil
}

func (s *service) SetTemperature(ctx context.Context, req *SetTemperatureRequest) (*Empty, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if req.SerialNumber == "" {
		return nil, status.Error(codes.InvalidArgument, "serial_number is required")
	}
	if err := s.commands.SetTemperature(ctx, req.SerialNumber, req.TemperatureCelsius); err != nil {
		return nil, statusFromError("set temperature", err)
	}
	return &Empty{}, nil
}

func (s *service) SetHvacMode(ctx context.Context, req *SetHvacModeRequest) (*Empty, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if req.SerialNumber == "" {
		return nil, status.Error(codes.InvalidArgument, "serial_number is required")
	}
	if err := s.commands.SetHVACMode(ctx, req.SerialNumber, req.HvacMode); err != nil {
		return nil, statusFromError("set hvac mode", err)
	}
	return &Empty{}, nil
}

func (s *service) SetPresetMode(ctx context.Context, req *SetPresetModeRequest) (*Empty, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if req.SerialNumber == "" {
		return nil, status.Error(codes.InvalidArgument, "serial_number is required")
	}
	if err := s.commands.SetPresetMode(ctx, req.SerialNumber, req.PresetMode); err != nil {
		return nil, statusFromError("set preset mode", err)
	}
	return &Empty{}, nil
}

func (s *service) Refresh(ctx context.Context, _ *RefreshRequest) (*RefreshResponse, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := s.coordinator.Refresh(ctx); err != nil {
		return nil, statusFromError("refresh", err)
	}
	snap := s.coordinator.Snapshot()
	return &RefreshResponse{
		Thermostats: int32(len(snap.Thermostats)),
		LastUpdated: formatTime(snap.LastUpdated),
	}, nil
}

func statusFromError(op string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return status.Errorf(codes.NotFound, "%s: %v", op, err)
	case errors.Is(err, ErrUnsupported), errors.Is(err, ErrInvalidTemperature):
		return status.Errorf(codes.InvalidArgument, "%s: %v", op, err)
	case errors.Is(err, context.Canceled):
		return status.Errorf(codes.Canceled, "%s: %v", op, err)
	case errors.Is(err, ErrAPI):
		return status.Errorf(codes.Unavailable, "%s: %v", op, err)
	default:
		return status.Errorf(codes.Internal, "%s: %v", op, err)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
