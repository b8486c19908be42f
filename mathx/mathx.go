package mathx

func ConvertScale(x, xMin, xMax, yMin, yMax float32) float32 {
	return yMin + (yMax-yMin)*(x-xMin)/(xMax-xMin)
}

func CentralDifference(plusY, minusY, h float32) float32 {
	return (plusY - minusY) / (2.0 * h)
}

func Clip(x, lo, hi float32) float32 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// LinearRamp rises from 0 at t=0 to 1 at t=duration and stays there.
func LinearRamp(t, duration float64) float32 {
	if duration <= 0 {
		return 1.0
	}
	return Clip(float32(t/duration), 0.0, 1.0)
}
