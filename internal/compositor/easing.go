package compositor

// Easing maps linear progress in [0, 1] to eased progress. Every easing
// satisfies f(0) = 0 and f(1) = 1.
type Easing func(p float64) float64

func Linear(p float64) float64 { return p }

func EaseIn(p float64) float64 { return p * p }

func EaseOut(p float64) float64 { return p * (2 - p) }

func EaseInOut(p float64) float64 {
	if p < 0.5 {
		return 2 * p * p
	}
	return -1 + (4-2*p)*p
}

// ParseEasing resolves an easing name; unknown and empty names are linear.
func ParseEasing(name string) Easing {
	switch name {
	case "ease-in", "easeIn":
		return EaseIn
	case "ease-out", "easeOut":
		return EaseOut
	case "ease-in-out", "easeInOut":
		return EaseInOut
	default:
		return Linear
	}
}
