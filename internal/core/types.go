package core

import "time"

// Home is a dwelling attached to the authenticated account.
type Home struct {
	ID                        string `json:"id"`
	TimeZone                  string `json:"timeZone"`
	AppNickname               string `json:"appNickname,omitempty"`
	HasSmartMeterCapabilities bool   `json:"hasSmartMeterCapabilities"`
	HasSignedEnergyDeal       bool   `json:"hasSignedEnergyDeal"`
	HasConsumption            bool   `json:"hasConsumption"`
}

// Device is a piece of hardware (the upstream API calls these "gizmos")
// registered on a home.
type Device struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Type     string `json:"type"`
	IsHidden bool   `json:"isHidden"`
}

// Device types the reward pipeline cares about. The API reports more; anything
// outside this set is ignored when grouping.
const (
	DeviceRealTimeMeter   = "REAL_TIME_METER"
	DeviceInverter        = "INVERTER"
	DeviceBattery         = "BATTERY"
	DeviceElectricVehicle = "ELECTRIC_VEHICLE"
	DeviceEVCharger       = "EV_CHARGER"
)

// KnownDeviceTypes lists the device types used for reward attribution.
var KnownDeviceTypes = []string{
	DeviceRealTimeMeter,
	DeviceInverter,
	DeviceBattery,
	DeviceElectricVehicle,
	DeviceEVCharger,
}

// RewardPeriod holds grid reward totals for one requested time window.
// Every field is nullable: the upstream returns null for periods it has no
// data for, and a failed period fetch degrades to the zero value.
type RewardPeriod struct {
	EV       *float64 `json:"ev"`
	Homevolt *float64 `json:"homevolt"`
	Total    *float64 `json:"total"`
	Currency *string  `json:"currency"`
	From     *string  `json:"from"`
	To       *string  `json:"to"`
}

// IsZero reports whether the period carries no data at all.
func (p RewardPeriod) IsZero() bool {
	return p.EV == nil && p.Homevolt == nil && p.Total == nil &&
		p.Currency == nil && p.From == nil && p.To == nil
}

// RewardReport is the compiled multi-period view consumed by callers.
// Individual periods may be all-null when their fetch failed.
type RewardReport struct {
	CurrentMonth  RewardPeriod `json:"current_month"`
	PreviousMonth RewardPeriod `json:"previous_month"`
	Year          RewardPeriod `json:"year"`
	CurrentDay    RewardPeriod `json:"current_day"`
	Currency      string       `json:"currency"`
	CompiledAt    time.Time    `json:"compiled_at"`
}

// CacheStats is a point-in-time snapshot of response cache efficiency.
type CacheStats struct {
	Entries       int     `json:"entries"`
	Hits          uint64  `json:"hits"`
	Misses        uint64  `json:"misses"`
	HitRate       float64 `json:"hit_rate"`
	TotalRequests uint64  `json:"total_requests"`
}

// LimiterSnapshot is the persisted state of the multi-tier rate limiter.
type LimiterSnapshot struct {
	HourlyTokens float64   `json:"hourly_tokens"`
	BurstTokens  float64   `json:"burst_tokens"`
	SavedAt      time.Time `json:"saved_at"`
}
