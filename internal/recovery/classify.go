package recovery

import (
	"strings"

	"github.com/ramiqadoumi/go-resilience/internal/domain"
)

// Classify derives a severity from a fault message. The first matching rule
// wins.
func Classify(message string) domain.Severity {
	m := strings.ToLower(message)
	switch {
	case strings.Contains(m, "network"), strings.Contains(m, "fetch"):
		return domain.SeverityMedium
	case strings.Contains(m, "chunk"), strings.Contains(m, "module"):
		return domain.SeverityMedium
	case strings.Contains(m, "hydration"):
		return domain.SeverityHigh
	case strings.Contains(m, "security"), strings.Contains(m, "cors"):
		return domain.SeverityCritical
	default:
		return domain.SeverityLow
	}
}
