package sim

import (
	"math"
	"time"
)

// SatelliteView is one simulated satellite.
type SatelliteView struct {
	PRN          int
	ElevationDeg float64
	AzimuthDeg   float64
	SNR          float64
	Used         bool
}

// Constellation returns count satellites spread evenly in azimuth, drifting
// one full turn per hour. Satellites above 15° elevation are marked used.
func Constellation(now time.Time, count int) []SatelliteView {
	if count <= 0 {
		return nil
	}
	const hour = time.Hour
	drift := 360 * float64(now.UnixNano()%hour.Nanoseconds()) / float64(hour.Nanoseconds())

	out := make([]SatelliteView, 0, count)
	for i := 0; i < count; i++ {
		az := math.Mod(drift+float64(i)*360/float64(count), 360)
		// Alternate high and low passes so the set has a usable spread.
		el := 10 + 70*math.Abs(math.Sin(float64(i)*1.3+drift*math.Pi/180))
		snr := 20 + 0.3*el
		out = append(out, SatelliteView{
			PRN:          i + 1,
			ElevationDeg: math.Round(el),
			AzimuthDeg:   math.Round(az),
			SNR:          math.Round(snr),
			Used:         el > 15,
		})
	}
	return out
}
