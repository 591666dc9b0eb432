// Package steps is the static table of every step the cog exposes.
package steps

import (
	"github.com/opentalon/geminicog/internal/step"
	"github.com/opentalon/geminicog/internal/steps/completion"
)

// Factories lists every step, in manifest order.
var Factories = []step.Factory{
	completion.NewWordCount,
	completion.NewScript,
}

// NewRegistry builds a fresh registry from Factories.
func NewRegistry() (*step.Registry, error) {
	return step.NewRegistry(Factories...)
}
