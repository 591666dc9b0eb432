// Package cogserver implements CogService: manifest assembly, step
// dispatch and the RunSteps stream lifecycle.
package cogserver

import (
	"github.com/opentalon/geminicog/internal/auth"
	"github.com/opentalon/geminicog/internal/step"
	"github.com/opentalon/geminicog/pkg/cog"
)

// Info is the cog's identity as reported in its manifest.
type Info struct {
	Name        string
	Label       string
	Version     string
	Homepage    string
	AuthHelpURL string
}

// BuildManifest describes the cog. Step definitions keep registration
// order and every credential field is required.
func BuildManifest(info Info, fields []auth.Field, reg *step.Registry) *cog.CogManifest {
	m := &cog.CogManifest{
		Name:            info.Name,
		Label:           info.Label,
		Version:         info.Version,
		Homepage:        info.Homepage,
		AuthHelpURL:     info.AuthHelpURL,
		AuthFields:      make([]*cog.FieldDefinition, 0, len(fields)),
		StepDefinitions: make([]*cog.StepDefinition, 0, reg.Len()),
	}
	for _, f := range fields {
		m.AuthFields = append(m.AuthFields, f.Definition())
	}
	for _, def := range reg.Definitions() {
		m.StepDefinitions = append(m.StepDefinitions, def.Proto())
	}
	return m
}
