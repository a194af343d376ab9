package script

import (
	"strings"
	"unicode/utf8"

	"github.com/convolab/lessonaudio/internal/domain/lessons"
)

const (
	narrationWordsPerSecond = 2.5
	l2SecondsPerRune        = 0.12
	minL2Seconds            = 1.0
)

// EstimateUnitSeconds is a rough spoken-length estimate used for drill placement
// before any audio exists.
func EstimateUnitSeconds(u lessons.ScriptUnit) float64 {
	switch v := u.(type) {
	case lessons.NarrationL1:
		return float64(len(strings.Fields(v.Text))) / narrationWordsPerSecond
	case lessons.L2:
		secs := float64(utf8.RuneCountInString(strings.TrimSpace(v.Text))) * l2SecondsPerRune / v.EffectiveSpeed()
		if secs < minL2Seconds {
			return minL2Seconds
		}
		return secs
	case lessons.Pause:
		return v.Seconds
	default:
		return 0
	}
}

func EstimateSeconds(units []lessons.ScriptUnit) float64 {
	total := 0.0
	for _, u := range units {
		total += EstimateUnitSeconds(u)
	}
	return total
}
