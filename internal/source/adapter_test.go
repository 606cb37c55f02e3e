package source

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMapReadingNestedShape(t *testing.T) {
	raw := json.RawMessage(`{
		"dht11": {"temperature": 25.5, "humidity": 60},
		"soil": {"temperature": 22.1},
		"npk": {"soilHumidity": 45.25, "nitrate": 80, "phosphorus": 40, "potassium": 90, "ph": 6.5}
	}`)

	ts := time.Date(2025, 9, 30, 20, 30, 0, 0, time.UTC)
	r := MapReading(raw, ts)
	if r == nil {
		t.Fatal("Expected a reading, got nil")
	}
	if !r.Timestamp.Equal(ts) {
		t.Errorf("Expected timestamp %v, got %v", ts, r.Timestamp)
	}
	if r.Temperature != 25.5 {
		t.Errorf("Expected temperature 25.5, got %v", r.Temperature)
	}
	if r.SoilTemperature != 22.1 {
		t.Errorf("Expected soilTemperature 22.1, got %v", r.SoilTemperature)
	}
	if r.Moisture != 45.25 {
		t.Errorf("Expected moisture 45.25, got %v", r.Moisture)
	}
	if r.Nitrogen != 80 {
		t.Errorf("Expected nitrogen 80 via nitrate alias, got %v", r.Nitrogen)
	}
}

func TestMapReadingAliases(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		idx  int
		want float64
	}{
		{name: "flat temperature", raw: `{"temperature": 24}`, idx: 0, want: 24},
		{name: "npk soilTemperature", raw: `{"npk": {"soilTemperature": 21}}`, idx: 1, want: 21},
		{name: "npk soil_temp", raw: `{"npk": {"soil_temp": 20.5}}`, idx: 1, want: 20.5},
		{name: "npk soilTemp", raw: `{"npk": {"soilTemp": 19}}`, idx: 1, want: 19},
		{name: "flat soil_temp", raw: `{"soil_temp": 18}`, idx: 1, want: 18},
		{name: "flat humidity", raw: `{"humidity": 55}`, idx: 2, want: 55},
		{name: "flat moisture", raw: `{"moisture": 40}`, idx: 3, want: 40},
		{name: "flat soilHumidity", raw: `{"soilHumidity": 41}`, idx: 3, want: 41},
		{name: "npk nitrogen", raw: `{"npk": {"nitrogen": 70}}`, idx: 4, want: 70},
		{name: "flat nitrate", raw: `{"nitrate": 72}`, idx: 4, want: 72},
		{name: "npk ph", raw: `{"npk": {"ph": 6.8}}`, idx: 7, want: 6.8},
		{name: "string number coerced", raw: `{"temperature": "23.5"}`, idx: 0, want: 23.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := MapReading(json.RawMessage(tt.raw), time.Now())
			if r == nil {
				t.Fatal("Expected a reading, got nil")
			}
			if got := r.Vector()[tt.idx]; got != tt.want {
				t.Errorf("Expected %v at metric %d, got %v", tt.want, tt.idx, got)
			}
		})
	}
}

func TestMapReadingAliasPrecedence(t *testing.T) {
	// Nested group values win over flat legacy fields.
	raw := json.RawMessage(`{
		"dht11": {"temperature": 25},
		"temperature": 99,
		"npk": {"nitrate": 80, "nitrogen": 10}
	}`)
	r := MapReading(raw, time.Now())
	if r == nil {
		t.Fatal("Expected a reading, got nil")
	}
	if r.Temperature != 25 {
		t.Errorf("Expected dht11 temperature to win, got %v", r.Temperature)
	}
	if r.Nitrogen != 80 {
		t.Errorf("Expected nitrate to win over nitrogen, got %v", r.Nitrogen)
	}
}

func TestMapReadingRejectsUnusable(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "not an object", raw: `[1, 2, 3]`},
		{name: "null", raw: `null`},
		{name: "invalid json", raw: `{`},
		{name: "no recognizable metrics", raw: `{"battery": 88, "rssi": -60}`},
		{name: "unparseable string value only", raw: `{"temperature": "warm"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if r := MapReading(json.RawMessage(tt.raw), time.Now()); r != nil {
				t.Errorf("Expected nil, got %+v", r)
			}
		})
	}
}

func TestMapReadingPartialMetricsDefaultZero(t *testing.T) {
	r := MapReading(json.RawMessage(`{"dht11": {"temperature": 25}}`), time.Now())
	if r == nil {
		t.Fatal("Expected a reading, got nil")
	}
	if r.Humidity != 0 || r.PH != 0 {
		t.Errorf("Expected unmapped metrics to be zero, got humidity=%v ph=%v", r.Humidity, r.PH)
	}
}
