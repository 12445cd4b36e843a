/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package runrequest

import "github.com/invopop/jsonschema"

// Generator wraps jsonschema.Reflector with the defaults used for request
// documents.
type Generator struct {
	reflector jsonschema.Reflector
}

// NewGenerator constructs a generator wired for request documents. Unknown
// keys are rejected so a typoed stanza fails schema validation instead of
// being silently dropped.
func NewGenerator() *Generator {
	return &Generator{
		reflector: jsonschema.Reflector{
			RequiredFromJSONSchemaTags: true,
			ExpandedStruct:             true,
			DoNotReference:             true,
		},
	}
}

// Reflect returns the JSON schema for the provided value.
func (g *Generator) Reflect(v any) *jsonschema.Schema {
	return g.reflector.Reflect(v)
}

// Schema returns the JSON schema for run request documents.
func Schema() *jsonschema.Schema {
	return NewGenerator().Reflect(&Request{})
}
