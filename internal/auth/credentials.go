// Package auth declares the credential fields a cog requires and extracts
// them from per-call gRPC metadata.
package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"google.golang.org/grpc/metadata"

	"github.com/opentalon/geminicog/pkg/cog"
)

// Field declares one credential the host must supply with every call.
type Field struct {
	Key         string
	Type        cog.FieldType
	Description string
	Help        string
}

// Definition returns the manifest form of the field. Credential fields are
// always required.
func (f Field) Definition() *cog.FieldDefinition {
	return &cog.FieldDefinition{
		Key:         f.Key,
		Optionality: cog.Required,
		Type:        f.Type,
		Description: f.Description,
		Help:        f.Help,
	}
}

// Credentials holds the credential values supplied for one call, keyed by
// field key. They live only as long as the call and are never persisted.
type Credentials map[string]string

// Get returns the value for key, or "".
func (c Credentials) Get(key string) string {
	return c[key]
}

// Masked returns a copy of the credentials safe for logging.
func (c Credentials) Masked() map[string]string {
	out := make(map[string]string, len(c))
	for k, v := range c {
		out[k] = Mask(v)
	}
	return out
}

// MissingCredentialsError lists required credential keys absent from a call.
type MissingCredentialsError struct {
	Keys []string
}

func (e *MissingCredentialsError) Error() string {
	return fmt.Sprintf("missing credentials: %s", strings.Join(e.Keys, ", "))
}

// FromMetadata reads every declared field from md. Metadata keys are
// matched case-insensitively since gRPC lowercases them on the wire.
func FromMetadata(md metadata.MD, fields []Field) (Credentials, error) {
	creds := make(Credentials, len(fields))
	var missing []string
	for _, f := range fields {
		vals := md.Get(strings.ToLower(f.Key))
		if len(vals) == 0 || strings.TrimSpace(vals[0]) == "" {
			missing = append(missing, f.Key)
			continue
		}
		creds[f.Key] = vals[0]
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &MissingCredentialsError{Keys: missing}
	}
	return creds, nil
}

// FromContext reads credentials from the incoming metadata of ctx.
func FromContext(ctx context.Context, fields []Field) (Credentials, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	return FromMetadata(md, fields)
}

const maskSuffix = "***"

// Mask replaces most of a secret with ***, keeping at most the first
// 6 characters for identification.
func Mask(secret string) string {
	if secret == "" {
		return ""
	}
	visible := 6
	if len(secret) <= visible {
		return maskSuffix
	}
	return secret[:visible] + maskSuffix
}
