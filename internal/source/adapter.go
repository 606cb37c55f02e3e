package source

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/agrisense/telemetry/internal/models"
)

// MapReading normalizes a raw telemetry document into a Reading. Devices
// in the field disagree on shape and naming: some nest metrics under
// dht11/npk/soil groups, some publish flat objects, and a few firmware
// revisions use snake_case or legacy names. Every alias chain is ordered
// most-recent-firmware first; a metric with no usable alias resolves to
// zero. Returns nil when the document is not an object or carries no
// recognizable metric at all.
func MapReading(raw json.RawMessage, ts time.Time) *models.Reading {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		return nil
	}

	dht := nested(doc, "dht11")
	npk := nested(doc, "npk")
	soil := nested(doc, "soil")

	r := models.Reading{Timestamp: ts}
	matched := false

	pick := func(dst *float64, candidates ...lookup) {
		for _, c := range candidates {
			if v, ok := field(c.group, c.key); ok {
				*dst = v
				matched = true
				return
			}
		}
	}

	pick(&r.Temperature,
		lookup{dht, "temperature"},
		lookup{doc, "temperature"})
	pick(&r.SoilTemperature,
		lookup{soil, "temperature"},
		lookup{soil, "soilTemperature"},
		lookup{soil, "soil_temp"},
		lookup{npk, "soilTemperature"},
		lookup{npk, "soil_temp"},
		lookup{npk, "soilTemp"},
		lookup{doc, "soilTemperature"},
		lookup{doc, "soil_temp"},
		lookup{doc, "soilTemp"})
	pick(&r.Humidity,
		lookup{dht, "humidity"},
		lookup{doc, "humidity"})
	pick(&r.Moisture,
		lookup{npk, "soilHumidity"},
		lookup{doc, "moisture"},
		lookup{doc, "soilHumidity"})
	pick(&r.Nitrogen,
		lookup{npk, "nitrate"},
		lookup{npk, "nitrogen"},
		lookup{doc, "nitrogen"},
		lookup{doc, "nitrate"})
	pick(&r.Phosphorus,
		lookup{npk, "phosphorus"},
		lookup{doc, "phosphorus"})
	pick(&r.Potassium,
		lookup{npk, "potassium"},
		lookup{doc, "potassium"})
	pick(&r.PH,
		lookup{npk, "ph"},
		lookup{doc, "ph"})

	if !matched {
		return nil
	}
	return &r
}

type lookup struct {
	group map[string]any
	key   string
}

func nested(doc map[string]any, key string) map[string]any {
	if m, ok := doc[key].(map[string]any); ok {
		return m
	}
	return nil
}

// field coerces a group member to float64. Devices occasionally emit
// numbers as strings, so those are parsed too.
func field(group map[string]any, key string) (float64, bool) {
	if group == nil {
		return 0, false
	}
	v, ok := group[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
