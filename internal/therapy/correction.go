package therapy

// CorrectionDB returns the hearing-correction boost in dB for a partial at
// frequencyHz. The curve is flat at zero up to 2 kHz, reaches a ninth of the
// maximum at 2.8 kHz and the full maximum at 8 kHz, where it stays.
func CorrectionDB(frequencyHz float64, s Severity) float64 {
	maxDB := s.MaxCorrectionDB()
	if maxDB == 0 {
		return 0
	}

	f := frequencyHz / 1000
	switch {
	case f <= 2:
		return 0
	case f <= 2.8:
		t := (f - 2) / (2.8 - 2)
		return t * (maxDB / 9)
	case f <= 8:
		t := (f - 2.8) / (8 - 2.8)
		return maxDB/9 + t*(8*maxDB/9)
	default:
		return maxDB
	}
}
