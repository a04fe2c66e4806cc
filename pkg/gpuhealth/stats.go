// Package gpuhealth classifies GPU health from nvidia-smi readings and
// recommends a recovery action. There is no Go NVML or nvidia-smi binding
// anywhere in the retrieved corpus, and the original implementation itself
// shells out to nvidia-smi as its fallback path, so this package does the
// same rather than reaching for a library that does not exist.
package gpuhealth

// Health is the overall classification of a single GPU's condition.
type Health string

const (
	HealthHealthy     Health = "healthy"
	HealthWarning     Health = "warning"
	HealthCritical    Health = "critical"
	HealthError       Health = "error"
	HealthUnavailable Health = "unavailable"
)

// ErrorType names the specific failure mode behind a non-healthy
// classification.
type ErrorType string

const (
	ErrorNone    ErrorType = "none"
	ErrorOOM     ErrorType = "out_of_memory"
	ErrorHang    ErrorType = "gpu_hang"
	ErrorThermal ErrorType = "thermal_throttling"
	ErrorPower   ErrorType = "power_limit"
	ErrorECC     ErrorType = "ecc_error"
	ErrorNVLink  ErrorType = "nvlink_error"
	ErrorUnknown ErrorType = "unknown_error"
)

// Thresholds match the original collector's hardcoded limits exactly; they
// are not made configurable because they describe physical hardware limits
// of the specific GPU class this appliance targets, not a deployment
// preference.
const (
	TempWarningC  = 83.0
	TempCriticalC = 85.0
	TempShutdownC = 90.0

	MemoryWarningMB  = 36864.0
	MemoryCriticalMB = 38912.0
	MemoryMaxMB      = 40960.0

	UtilizationHangThreshold = 99.0
	HangDurationChecks       = 30
)

// Stats is a single reading from one GPU.
type Stats struct {
	Index          int
	Name           string
	Temperature    float64
	Utilization    float64
	MemoryUsedMB   float64
	MemoryTotalMB  float64
	MemoryPercent  float64
	PowerDrawWatts float64
	PowerLimit     float64
	FanSpeed       *float64
	ClockGraphics  float64
	ClockMemory    float64
	Health         Health
	Error          ErrorType
	ErrorMessage   string
}
