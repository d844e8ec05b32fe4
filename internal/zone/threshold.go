package zone

// DefaultBrightnessThreshold is the split point between the below- and
// above-threshold entity groups.
const DefaultBrightnessThreshold = 128

// Split maps one logical brightness onto the below-threshold and
// above-threshold entity groups. Below the threshold only the first group
// lights, scaled to full range; above it the first group is at 255 and the
// second group scales from 0 to 255. Threshold must be in 1..255.
func Split(requested, threshold int) (below, above float64) {
	if threshold < 1 {
		threshold = 1
	}
	if threshold > 255 {
		threshold = 255
	}

	if requested > threshold {
		if threshold == 255 {
			return 255, 255
		}
		return 255, 255 * float64(requested-threshold) / float64(255-threshold)
	}
	if requested < 0 {
		requested = 0
	}
	return 255 * float64(requested) / float64(threshold), 0
}

// applyMultiplier scales a group brightness by the entity's configured
// multiplier, if any.
func applyMultiplier(brightness float64, entityID string, multipliers map[string]float64) float64 {
	if m, ok := multipliers[entityID]; ok {
		return brightness * m
	}
	return brightness
}
