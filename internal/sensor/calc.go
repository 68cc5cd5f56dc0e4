package sensor

import "math"

const seaLevelPa = 101325.0

// Dewpoint returns the dew point in °C (Magnus formula over water)
func Dewpoint(tempC, relHumidity float64) float64 {
	const b, c = 17.62, 243.12
	gamma := math.Log(relHumidity/100.0) + (b*tempC)/(c+tempC)
	return (c * gamma) / (b - gamma)
}

// Altitude returns the barometric altitude in m for a pressure in Pa
func Altitude(pressurePa float64) float64 {
	return 44330.0 * (1.0 - math.Pow(pressurePa/seaLevelPa, 1.0/5.255))
}

// VaporPressureDeficit returns the VPD in Pa
func VaporPressureDeficit(tempC, relHumidity float64) float64 {
	saturation := 610.7 * math.Pow(10, (7.5*tempC)/(237.3+tempC))
	return ((100.0 - relHumidity) / 100.0) * saturation
}
