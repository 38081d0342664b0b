package audio

// Smoothstep returns the smoothstep interpolation for t in [0,1].
// Formula: 3t^2 - 2t^3.
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// rampGain moves from one master gain to another across n samples so volume
// changes do not click. Sample n-1 lands exactly on to.
func rampGain(from, to float64, i, n int) float64 {
	if from == to || n <= 0 {
		return to
	}
	return from + (to-from)*Smoothstep(float64(i+1)/float64(n))
}
