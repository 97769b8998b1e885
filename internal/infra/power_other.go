//go:build !linux

package infra

import "github.com/eliteGoblin/kioskd/internal/domain"

func platformStrategies(runner CommandRunner) []domain.PowerStrategy {
	return []domain.PowerStrategy{NewSystemctlStrategy(runner)}
}
