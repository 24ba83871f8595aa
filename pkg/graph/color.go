package graph

const (
	yellowThreshold = 0.5
	redThreshold    = 0.8
)

// ColorFor derives a node color from its power usage and limit.
// A zero limit means no risk and is always green.
func ColorFor(usage, limit float64) Color {
	if limit == 0 {
		return ColorGreen
	}
	ratio := usage / limit
	switch {
	case ratio < yellowThreshold:
		return ColorGreen
	case ratio < redThreshold:
		return ColorYellow
	default:
		return ColorRed
	}
}
