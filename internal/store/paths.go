package store

import "fmt"

// SensorDataPath is the global live-feed location. Not user-scoped: one
// sensor array feeds every session.
const SensorDataPath = "sensorData"

// UserHistory returns the per-user history root.
func UserHistory(uid string) string {
	return "users/" + uid + "/history"
}

// HourlyLog returns the append-only accepted-observation log.
func HourlyLog(uid string) string {
	return UserHistory(uid) + "/hourly"
}

// HourlyEntry returns the path of one hourly log entry.
func HourlyEntry(uid, entryID string) string {
	return HourlyLog(uid) + "/" + entryID
}

// DailyLog returns the calendar-day summary collection.
func DailyLog(uid string) string {
	return UserHistory(uid) + "/daily"
}

// DailySummary returns the summary path for one calendar date key.
func DailySummary(uid, dateKey string) string {
	return DailyLog(uid) + "/" + dateKey
}

// DayBucket returns the path of one cycle day bucket (day 1..3).
func DayBucket(uid string, day int) string {
	return fmt.Sprintf("%s/day%d", UserHistory(uid), day)
}

// CurrentDay returns the path of the rotating current-day pointer.
func CurrentDay(uid string) string {
	return UserHistory(uid) + "/currentDay"
}

// DayResult returns the companion day-result record path.
func DayResult(uid string, day int) string {
	return fmt.Sprintf("%s/results/day%d", UserHistory(uid), day)
}

// DayResults returns the day-result collection root.
func DayResults(uid string) string {
	return UserHistory(uid) + "/results"
}

// FinalAverage returns the cycle rollup path.
func FinalAverage(uid string) string {
	return UserHistory(uid) + "/finalAverage"
}

// CycleComplete returns the cycle-completion marker path.
func CycleComplete(uid string) string {
	return UserHistory(uid) + "/cycleComplete"
}

// Prepared returns the per-user prepared/derived data root.
func Prepared(uid string) string {
	return "users/" + uid + "/prepared"
}

// CropPrediction returns the latest crop prediction pointer.
func CropPrediction(uid string) string {
	return Prepared(uid) + "/cropPrediction"
}

// CropPredictions returns the append-only prediction history list.
func CropPredictions(uid string) string {
	return Prepared(uid) + "/cropPredictions"
}

// FertilizerPrediction returns the prepared fertilizer model input.
func FertilizerPrediction(uid string) string {
	return Prepared(uid) + "/fertilizerPrediction"
}

// FertilizerResult returns the persisted fertilizer recommendation.
func FertilizerResult(uid string) string {
	return Prepared(uid) + "/fertilizerResult"
}

// LockTs returns the clear-history lock timestamp path.
func LockTs(uid string) string {
	return Prepared(uid) + "/lockTs"
}
