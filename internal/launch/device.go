package launch

import (
	"os"
	"strconv"

	"github.com/klauspost/cpuid/v2"
)

// EnvDeviceCount overrides the detected accelerator count.
const EnvDeviceCount = "ML_DEVICE_COUNT"

// DeviceCount returns the number of parallel workers a local multiprocess
// launch should stand up: the ML_DEVICE_COUNT override when set, otherwise
// the physical core count of the host.
func DeviceCount() int {
	if raw := os.Getenv(EnvDeviceCount); raw != "" {
		if count, err := strconv.Atoi(raw); err == nil && count > 0 {
			return count
		}
	}
	if cores := cpuid.CPU.PhysicalCores; cores > 0 {
		return cores
	}
	return 1
}
