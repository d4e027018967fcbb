// Package widgets maps a device type string to a rendering strategy for its
// single-value sensor state. The registry is a total function: unknown types
// resolve to an explicit fallback renderer, never to nil.
package widgets

import (
	"fmt"
	"time"

	"github.com/gridport-io/gridport/internal/models"
)

// Severity classifies a presentation for the dashboard's color coding.
type Severity string

const (
	SeverityGood     Severity = "good"
	SeverityInfo     Severity = "info"
	SeverityModerate Severity = "moderate"
	SeverityWarning  Severity = "warning"
	SeverityDanger   Severity = "danger"
	SeverityUnknown  Severity = "unknown"
)

// Presentation is the rendered state of one device reading.
type Presentation struct {
	Widget   string   `json:"widget"`
	Value    string   `json:"value"`
	Status   string   `json:"status"`
	Detail   string   `json:"detail,omitempty"`
	Severity Severity `json:"severity"`
}

// Renderer turns one device reading into a presentation.
type Renderer interface {
	Render(d models.Device) Presentation
}

// Registry resolves device type tags to renderers.
type Registry struct {
	renderers map[string]Renderer
}

// NewRegistry builds the registry with every supported widget type.
func NewRegistry() *Registry {
	return &Registry{
		renderers: map[string]Renderer{
			"scale":         scaleRenderer{},
			"thermometer":   thermometerRenderer{},
			"light":         lightRenderer{},
			"humidity":      humidityRenderer{},
			"pressure":      pressureRenderer{},
			"co2":           co2Renderer{},
			"motion":        motionRenderer{},
			"noise":         noiseRenderer{},
			"air_quality":   airQualityRenderer{},
			"water_leak":    waterLeakRenderer{},
			"power":         powerRenderer{},
			"soil_moisture": soilMoistureRenderer{},
			"door":          doorRenderer{},
		},
	}
}

// Types returns the registered device type tags.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.renderers))
	for t := range r.renderers {
		out = append(out, t)
	}
	return out
}

// Resolve returns the renderer for a device type, or the unknown-type
// fallback when the type is not registered.
func (r *Registry) Resolve(deviceType string) Renderer {
	if renderer, ok := r.renderers[deviceType]; ok {
		return renderer
	}
	return unknownRenderer{}
}

// Render resolves and renders in one step.
func (r *Registry) Render(d models.Device) Presentation {
	return r.Resolve(d.Type).Render(d)
}

type unknownRenderer struct{}

func (unknownRenderer) Render(d models.Device) Presentation {
	return Presentation{
		Widget:   "unknown",
		Value:    "N/A",
		Status:   fmt.Sprintf("Unknown device type %q", d.Type),
		Severity: SeverityUnknown,
	}
}

// noReading is the presentation for a device that has not reported yet.
func noReading(widget string) Presentation {
	return Presentation{
		Widget:   widget,
		Value:    "N/A",
		Status:   "Unknown",
		Severity: SeverityInfo,
	}
}

func boolValue(d models.Device) bool {
	if d.Status != nil {
		return *d.Status
	}
	return d.RawValue != nil && *d.RawValue != 0
}

type co2Renderer struct{}

func (co2Renderer) Render(d models.Device) Presentation {
	if d.RawValue == nil {
		return noReading("co2")
	}
	ppm := *d.RawValue
	status, severity := co2Band(ppm)
	return Presentation{
		Widget:   "co2",
		Value:    fmt.Sprintf("%.0f ppm", ppm),
		Status:   status,
		Detail:   "CO2 Level: " + status,
		Severity: severity,
	}
}

func co2Band(ppm float64) (string, Severity) {
	switch {
	case ppm < 400:
		return "Excellent", SeverityGood
	case ppm < 1000:
		return "Good", SeverityGood
	case ppm < 2000:
		return "Moderate", SeverityModerate
	case ppm < 5000:
		return "Poor", SeverityWarning
	default:
		return "Dangerous", SeverityDanger
	}
}

type humidityRenderer struct{}

func (humidityRenderer) Render(d models.Device) Presentation {
	if d.RawValue == nil {
		return noReading("humidity")
	}
	pct := *d.RawValue
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	status, severity := humidityBand(pct)
	return Presentation{
		Widget:   "humidity",
		Value:    fmt.Sprintf("%.1f%%", pct),
		Status:   status,
		Severity: severity,
	}
}

func humidityBand(pct float64) (string, Severity) {
	switch {
	case pct < 30:
		return "Dry", SeverityWarning
	case pct < 50:
		return "Comfortable", SeverityGood
	case pct < 70:
		return "Humid", SeverityModerate
	default:
		return "Very Humid", SeverityModerate
	}
}

type thermometerRenderer struct{}

func (thermometerRenderer) Render(d models.Device) Presentation {
	if d.RawValue == nil {
		return noReading("thermometer")
	}
	temp := *d.RawValue
	status, severity := temperatureBand(temp)
	return Presentation{
		Widget:   "thermometer",
		Value:    fmt.Sprintf("%.1f°C", temp),
		Status:   status,
		Severity: severity,
	}
}

func temperatureBand(temp float64) (string, Severity) {
	switch {
	case temp < 0:
		return "Freezing", SeverityInfo
	case temp < 15:
		return "Cold", SeverityModerate
	case temp < 25:
		return "Comfortable", SeverityGood
	case temp < 35:
		return "Warm", SeverityWarning
	default:
		return "Hot", SeverityDanger
	}
}

type airQualityRenderer struct{}

func (airQualityRenderer) Render(d models.Device) Presentation {
	if d.RawValue == nil {
		return noReading("air_quality")
	}
	aqi := *d.RawValue
	status, detail, severity := aqiBand(aqi)
	return Presentation{
		Widget:   "air_quality",
		Value:    fmt.Sprintf("AQI %.0f", aqi),
		Status:   status,
		Detail:   detail,
		Severity: severity,
	}
}

func aqiBand(aqi float64) (string, string, Severity) {
	switch {
	case aqi <= 50:
		return "Good", "Healthy air quality", SeverityGood
	case aqi <= 100:
		return "Moderate", "Acceptable air quality", SeverityModerate
	case aqi <= 150:
		return "Unhealthy for Sensitive Groups", "Sensitive groups should reduce exposure", SeverityWarning
	case aqi <= 200:
		return "Unhealthy", "Everyone may experience effects", SeverityDanger
	default:
		return "Very Unhealthy", "Health alert: everyone may experience serious effects", SeverityDanger
	}
}

type noiseRenderer struct{}

func (noiseRenderer) Render(d models.Device) Presentation {
	if d.RawValue == nil {
		return noReading("noise")
	}
	db := *d.RawValue
	status, severity := noiseBand(db)
	return Presentation{
		Widget:   "noise",
		Value:    fmt.Sprintf("%.0f dB", db),
		Status:   status,
		Detail:   "Noise Level: " + status,
		Severity: severity,
	}
}

func noiseBand(db float64) (string, Severity) {
	switch {
	case db < 30:
		return "Very Quiet", SeverityGood
	case db < 50:
		return "Quiet", SeverityGood
	case db < 60:
		return "Moderate", SeverityModerate
	case db < 70:
		return "Loud", SeverityWarning
	default:
		return "Very Loud", SeverityDanger
	}
}

type powerRenderer struct{}

func (powerRenderer) Render(d models.Device) Presentation {
	if d.RawValue == nil {
		return noReading("power")
	}
	watts := *d.RawValue
	status, severity := powerBand(watts)
	value := fmt.Sprintf("%.0fW", watts)
	if watts >= 1000 {
		value = fmt.Sprintf("%.1fkW", watts/1000)
	}
	return Presentation{
		Widget:   "power",
		Value:    value,
		Status:   status,
		Detail:   "Power Usage: " + status,
		Severity: severity,
	}
}

func powerBand(watts float64) (string, Severity) {
	switch {
	case watts < 100:
		return "Low", SeverityGood
	case watts < 500:
		return "Moderate", SeverityModerate
	case watts < 1000:
		return "High", SeverityWarning
	default:
		return "Very High", SeverityDanger
	}
}

type soilMoistureRenderer struct{}

func (soilMoistureRenderer) Render(d models.Device) Presentation {
	if d.RawValue == nil {
		return noReading("soil_moisture")
	}
	level := *d.RawValue
	status, needsWater, severity := soilMoistureBand(level)
	detail := ""
	if needsWater {
		detail = "Needs water"
	}
	return Presentation{
		Widget:   "soil_moisture",
		Value:    fmt.Sprintf("%.0f%%", level),
		Status:   status,
		Detail:   detail,
		Severity: severity,
	}
}

func soilMoistureBand(level float64) (string, bool, Severity) {
	switch {
	case level < 20:
		return "Very Dry", true, SeverityDanger
	case level < 40:
		return "Dry", true, SeverityWarning
	case level < 60:
		return "Moderate", false, SeverityGood
	case level < 80:
		return "Moist", false, SeverityModerate
	default:
		return "Very Moist", false, SeverityModerate
	}
}

type lightRenderer struct{}

func (lightRenderer) Render(d models.Device) Presentation {
	if d.RawValue == nil {
		return noReading("light")
	}
	lux := *d.RawValue
	status := lightBand(lux)
	return Presentation{
		Widget:   "light",
		Value:    fmt.Sprintf("%.0f lux", lux),
		Status:   status,
		Severity: SeverityInfo,
	}
}

func lightBand(lux float64) string {
	switch {
	case lux < 50:
		return "Very Dark"
	case lux < 200:
		return "Dark"
	case lux < 500:
		return "Dim"
	case lux < 1000:
		return "Bright"
	default:
		return "Very Bright"
	}
}

// standard atmospheric pressure in hPa
const normalPressure = 1013.25

type pressureRenderer struct{}

func (pressureRenderer) Render(d models.Device) Presentation {
	if d.RawValue == nil {
		return noReading("pressure")
	}
	hpa := *d.RawValue
	deviation := (hpa - normalPressure) / normalPressure * 100
	severity := SeverityGood
	abs := deviation
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs < 0.5:
		severity = SeverityGood
	case abs < 1:
		severity = SeverityModerate
	default:
		severity = SeverityDanger
	}
	direction := "Above"
	if deviation < 0 {
		direction = "Below"
	}
	return Presentation{
		Widget:   "pressure",
		Value:    fmt.Sprintf("%.1f hPa", hpa),
		Status:   fmt.Sprintf("%s normal (%.1f%%)", direction, abs),
		Severity: severity,
	}
}

// Default scale configuration. The original exposes these as per-widget
// settings; here they are fixed presentation policy.
const (
	scaleMinWeight = 0.0
	scaleMaxWeight = 200.0
)

type scaleRenderer struct{}

func (scaleRenderer) Render(d models.Device) Presentation {
	if d.RawValue == nil {
		return noReading("scale")
	}
	kg := *d.RawValue
	pct := (kg - scaleMinWeight) / (scaleMaxWeight - scaleMinWeight) * 100
	if pct > 100 {
		pct = 100
	}
	severity := SeverityDanger
	switch {
	case pct < 33:
		severity = SeverityDanger
	case pct < 66:
		severity = SeverityModerate
	default:
		severity = SeverityGood
	}
	return Presentation{
		Widget:   "scale",
		Value:    fmt.Sprintf("%.1f kg", kg),
		Status:   fmt.Sprintf("%.0f%% of capacity", pct),
		Severity: severity,
	}
}

type motionRenderer struct{}

func (motionRenderer) Render(d models.Device) Presentation {
	detected := boolValue(d)
	status := "No Motion"
	severity := SeverityInfo
	if detected {
		status = "Motion Detected"
		severity = SeverityWarning
	}
	return Presentation{
		Widget:   "motion",
		Value:    status,
		Status:   status,
		Detail:   "Last activity: " + timeSince(d.UpdatedAt, time.Now()),
		Severity: severity,
	}
}

// timeSince renders the cosmetic "time since last motion" label. The
// dashboard refreshes it on a one minute tick.
func timeSince(t time.Time, now time.Time) string {
	minutes := int(now.Sub(t).Minutes())
	switch {
	case minutes < 1:
		return "Just now"
	case minutes < 60:
		if minutes == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", minutes)
	default:
		hours := minutes / 60
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	}
}

type doorRenderer struct{}

func (doorRenderer) Render(d models.Device) Presentation {
	open := boolValue(d)
	status := "Closed"
	severity := SeverityGood
	if open {
		status = "Open"
		severity = SeverityWarning
	}
	return Presentation{
		Widget:   "door",
		Value:    status,
		Status:   status,
		Detail:   "Last changed: " + d.UpdatedAt.Format("15:04:05"),
		Severity: severity,
	}
}

type waterLeakRenderer struct{}

func (waterLeakRenderer) Render(d models.Device) Presentation {
	leaking := boolValue(d)
	if leaking {
		return Presentation{
			Widget:   "water_leak",
			Value:    "Leak Detected!",
			Status:   "Leak Detected!",
			Detail:   "Immediate attention required",
			Severity: SeverityDanger,
		}
	}
	return Presentation{
		Widget:   "water_leak",
		Value:    "No Leaks",
		Status:   "No Leaks",
		Detail:   "System operating normally",
		Severity: SeverityGood,
	}
}
