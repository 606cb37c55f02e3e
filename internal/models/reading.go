package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// MetricCount is the number of metrics carried by every reading.
const MetricCount = 8

// Reading represents one normalized snapshot of the soil sensor array.
// Readings are never mutated after creation; pipeline stages copy by value.
type Reading struct {
	Timestamp       time.Time `json:"timestamp"`
	Temperature     float64   `json:"temperature"`
	SoilTemperature float64   `json:"soilTemperature"`
	Humidity        float64   `json:"humidity"`
	Moisture        float64   `json:"moisture"`
	Nitrogen        float64   `json:"nitrogen"`
	Phosphorus      float64   `json:"phosphorus"`
	Potassium       float64   `json:"potassium"`
	PH              float64   `json:"ph"`
}

// Vector returns the metric values in canonical field order.
func (r Reading) Vector() [MetricCount]float64 {
	return [MetricCount]float64{
		r.Temperature,
		r.SoilTemperature,
		r.Humidity,
		r.Moisture,
		r.Nitrogen,
		r.Phosphorus,
		r.Potassium,
		r.PH,
	}
}

// FromVector builds a Reading from metric values in canonical field order.
func FromVector(ts time.Time, v [MetricCount]float64) Reading {
	return Reading{
		Timestamp:       ts,
		Temperature:     v[0],
		SoilTemperature: v[1],
		Humidity:        v[2],
		Moisture:        v[3],
		Nitrogen:        v[4],
		Phosphorus:      v[5],
		Potassium:       v[6],
		PH:              v[7],
	}
}

// Signature returns the dedup signature: the eight metric values as
// received (not rounded), pipe-joined in canonical field order.
func (r Reading) Signature() string {
	v := r.Vector()
	parts := make([]string, MetricCount)
	for i, x := range v {
		parts[i] = strconv.FormatFloat(x, 'g', -1, 64)
	}
	return strings.Join(parts, "|")
}

// Rounded returns a copy with every metric rounded to one decimal place.
func (r Reading) Rounded() Reading {
	v := r.Vector()
	for i := range v {
		v[i] = Round1(v[i])
	}
	return FromVector(r.Timestamp, v)
}

func (r Reading) String() string {
	return fmt.Sprintf("Reading{temp=%.1f soilTemp=%.1f humidity=%.1f moisture=%.1f N=%.1f P=%.1f K=%.1f ph=%.1f}",
		r.Temperature, r.SoilTemperature, r.Humidity, r.Moisture,
		r.Nitrogen, r.Phosphorus, r.Potassium, r.PH)
}

// AverageOf computes the per-metric arithmetic mean across readings,
// rounded to one decimal place. An empty slice yields all zeros.
func AverageOf(ts time.Time, readings []Reading) Reading {
	var sums [MetricCount]float64
	for _, r := range readings {
		v := r.Vector()
		for i := range sums {
			sums[i] += v[i]
		}
	}
	var avg [MetricCount]float64
	if n := float64(len(readings)); n > 0 {
		for i := range avg {
			avg[i] = Round1(sums[i] / n)
		}
	}
	return FromVector(ts, avg)
}

// Round1 rounds to one decimal place; non-finite values collapse to 0.
func Round1(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*10) / 10
}
