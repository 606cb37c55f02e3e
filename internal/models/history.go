package models

import "time"

// HourlyEntry is one accepted observation persisted to the per-user
// hourly log. Append-only; one entry per accepted push.
type HourlyEntry struct {
	Timestamp       time.Time `json:"timestamp"`
	Date            string    `json:"date"`
	Hour            int       `json:"hour"`
	Day             int       `json:"day"`
	Temperature     float64   `json:"temperature"`
	SoilTemperature float64   `json:"soilTemperature"`
	Humidity        float64   `json:"humidity"`
	Moisture        float64   `json:"moisture"`
	Nitrogen        float64   `json:"nitrogen"`
	Phosphorus      float64   `json:"phosphorus"`
	Potassium       float64   `json:"potassium"`
	PH              float64   `json:"ph"`
	ReadingCount    int       `json:"readingCount"`
}

// NewHourlyEntry builds the persisted form of an accepted reading, with
// metrics rounded to one decimal place.
func NewHourlyEntry(r Reading, now time.Time) HourlyEntry {
	rr := r.Rounded()
	return HourlyEntry{
		Timestamp:       now,
		Date:            DateStr(now),
		Hour:            now.Hour(),
		Day:             now.Day(),
		Temperature:     rr.Temperature,
		SoilTemperature: rr.SoilTemperature,
		Humidity:        rr.Humidity,
		Moisture:        rr.Moisture,
		Nitrogen:        rr.Nitrogen,
		Phosphorus:      rr.Phosphorus,
		Potassium:       rr.Potassium,
		PH:              rr.PH,
		ReadingCount:    1,
	}
}

// Reading converts the entry back to the canonical reading shape.
func (e HourlyEntry) Reading() Reading {
	return Reading{
		Timestamp:       e.Timestamp,
		Temperature:     e.Temperature,
		SoilTemperature: e.SoilTemperature,
		Humidity:        e.Humidity,
		Moisture:        e.Moisture,
		Nitrogen:        e.Nitrogen,
		Phosphorus:      e.Phosphorus,
		Potassium:       e.Potassium,
		PH:              e.PH,
	}
}

// DayBucket accumulates readings for one logical day of the 3-day
// recommendation cycle. A bucket freezes once complete.
type DayBucket struct {
	Readings    map[string]Reading `json:"readings,omitempty"`
	Average     *Reading           `json:"average,omitempty"`
	IsComplete  bool               `json:"isComplete"`
	CompletedTs int64              `json:"completedTs,omitempty"`
	Count       int                `json:"count"`
}

// DayResult is the companion record written when a bucket completes.
type DayResult struct {
	Day         int     `json:"day"`
	Average     Reading `json:"average"`
	CompletedTs int64   `json:"completedTs"`
}

// CycleResult is the 3-day rollup persisted once per cycle.
type CycleResult struct {
	FinalAverage Reading `json:"finalAverage"`
	Ts           int64   `json:"ts"`
}

// CycleMarker records that a cycle finished, whether or not the
// prediction call succeeded.
type CycleMarker struct {
	Ts int64 `json:"ts"`
}

// FeatureVector is the payload sent to the crop prediction endpoint.
// Humidity carries the moisture average; temperature prefers the soil
// probe when it reported.
type FeatureVector struct {
	Nitrogen        float64 `json:"nitrogen"`
	Phosphorus      float64 `json:"phosphorus"`
	Potassium       float64 `json:"potassium"`
	Temperature     float64 `json:"temperature"`
	Humidity        float64 `json:"humidity"`
	Moisture        float64 `json:"moisture"`
	PH              float64 `json:"ph"`
	Rainfall        float64 `json:"rainfall"`
	SoilTemperature float64 `json:"soilTemperature"`
}

// PredictionRecord is a completed crop prediction.
type PredictionRecord struct {
	Ts       int64         `json:"ts"`
	Crop     string        `json:"crop"`
	Averages FeatureVector `json:"averages"`
}

// FertilizerSeed is the prepared input for the fertilizer model,
// written alongside each crop prediction.
type FertilizerSeed struct {
	Ts       int64         `json:"ts"`
	Crop     string        `json:"crop"`
	SoilType string        `json:"soilType"`
	Averages FeatureVector `json:"averages"`
}

// FertilizerResult is the stored fertilizer recommendation, computed on
// demand from the seed.
type FertilizerResult struct {
	Ts         int64         `json:"ts"`
	Crop       string        `json:"crop"`
	SoilType   string        `json:"soilType"`
	Fertilizer string        `json:"fertilizer"`
	Averages   FeatureVector `json:"averages"`
}

// DailySummary is the per-calendar-date rollup of the hourly log.
// Overwritten on every summarizer pass; independent of cycle state.
type DailySummary struct {
	ID                 string  `json:"id"`
	Date               string  `json:"date"`
	DayNumber          int     `json:"dayNumber"`
	TotalReadings      int     `json:"totalReadings"`
	HourCount          int     `json:"hourCount"`
	IsComplete         bool    `json:"isComplete"`
	AvgTemperature     float64 `json:"avgTemperature"`
	AvgSoilTemperature float64 `json:"avgSoilTemperature"`
	AvgHumidity        float64 `json:"avgHumidity"`
	AvgMoisture        float64 `json:"avgMoisture"`
	AvgNitrogen        float64 `json:"avgNitrogen"`
	AvgPhosphorus      float64 `json:"avgPhosphorus"`
	AvgPotassium       float64 `json:"avgPotassium"`
	AvgPh              float64 `json:"avgPh"`
}
