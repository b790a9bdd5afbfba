package display

// Level is the alert color of a value.
type Level int

const (
	LevelOK Level = iota
	LevelWarning
	LevelCritical
	// LevelNeutral marks temperatures that are below the warning level.
	LevelNeutral
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelNeutral:
		return "neutral"
	default:
		return "ok"
	}
}

// Classify maps value onto the warn/crit thresholds.
func Classify(value, warn, crit int) Level {
	switch {
	case value >= crit:
		return LevelCritical
	case value >= warn:
		return LevelWarning
	default:
		return LevelOK
	}
}

// ClassifyTemp is Classify for temperatures.
func ClassifyTemp(value, warn, crit int) Level {
	if value < warn {
		return LevelNeutral
	}
	return Classify(value, warn, crit)
}
