package toolrouter

import "github.com/haasonsaas/sidecar/pkg/model"

// jsonSchema is a small helper so default tool declarations below read as
// data, not escaped strings.
func jsonSchema(s string) []byte { return []byte(s) }

// DefaultToolSchemas returns the built-in tool surface a browser agent
// core exercises, grounded in the teacher's internal/tools/browser
// (click/type/navigate/extract primitives). Every schema sets
// additionalProperties:false so an unrecognized argument is a loud
// CodeValidation error rather than a silently-ignored extra key.
func DefaultToolSchemas() []model.ToolSchema {
	return []model.ToolSchema{
		{
			Name:        "browser.observe",
			Version:     1,
			Description: "Capture a fresh, redacted observation of the current document.",
			Idempotency: model.IdempotencyReadOnly,
			Mutating:    false,
			ArgsSchema: jsonSchema(`{
				"type": "object",
				"properties": {},
				"additionalProperties": false
			}`),
			ErrorCodes: []model.Code{model.CodeTimedOut, model.CodeUnavailable},
		},
		{
			Name:        "browser.click",
			Version:     1,
			Description: "Click the interactive element identified by handle.",
			Idempotency: model.IdempotencyRepeatable,
			Mutating:    true,
			Preconditions: []string{"handle must appear in the latest observation"},
			Postconditions: []string{"a fresh observation reflects the click's effect"},
			ArgsSchema: jsonSchema(`{
				"type": "object",
				"required": ["handle"],
				"properties": {
					"handle": {"type": "string", "minLength": 1}
				},
				"additionalProperties": false
			}`),
			ErrorCodes: []model.Code{model.CodeStaleHandle, model.CodeNotInteractable, model.CodeBlockedByOverlay, model.CodeTimedOut},
		},
		{
			Name:        "browser.type",
			Version:     1,
			Description: "Type text into the interactive element identified by handle.",
			Idempotency: model.IdempotencySideEffectOnce,
			Mutating:    true,
			Preconditions: []string{"handle must appear in the latest observation", "field must not be classified credential without an override"},
			ArgsSchema: jsonSchema(`{
				"type": "object",
				"required": ["handle", "text"],
				"properties": {
					"handle": {"type": "string", "minLength": 1},
					"text": {"type": "string"}
				},
				"additionalProperties": false
			}`),
			ErrorCodes: []model.Code{model.CodeStaleHandle, model.CodeNotInteractable, model.CodePolicyDenied},
		},
		{
			Name:        "browser.navigate",
			Version:     1,
			Description: "Navigate the current tab to url.",
			Idempotency: model.IdempotencyRepeatable,
			Mutating:    true,
			ArgsSchema: jsonSchema(`{
				"type": "object",
				"required": ["url"],
				"properties": {
					"url": {"type": "string", "minLength": 1}
				},
				"additionalProperties": false
			}`),
			ErrorCodes: []model.Code{model.CodeTimedOut, model.CodeUnavailable, model.CodePermission},
		},
		{
			Name:        "browser.extract",
			Version:     1,
			Description: "Extract visible text from the element identified by handle, or the full observation if omitted.",
			Idempotency: model.IdempotencyReadOnly,
			Mutating:    false,
			ArgsSchema: jsonSchema(`{
				"type": "object",
				"properties": {
					"handle": {"type": "string"}
				},
				"additionalProperties": false
			}`),
			ErrorCodes: []model.Code{model.CodeStaleHandle, model.CodeTimedOut},
		},
		{
			Name:        "browser.scroll",
			Version:     1,
			Description: "Scroll the element identified by handle (or the page) into view.",
			Idempotency: model.IdempotencyRepeatable,
			Mutating:    true,
			ArgsSchema: jsonSchema(`{
				"type": "object",
				"properties": {
					"handle": {"type": "string"}
				},
				"additionalProperties": false
			}`),
			ErrorCodes: []model.Code{model.CodeStaleHandle, model.CodeTimedOut},
		},
		{
			Name:        "clipboard.write",
			Version:     1,
			Description: "Write text to the system clipboard.",
			Idempotency: model.IdempotencyRepeatable,
			Mutating:    true,
			ArgsSchema: jsonSchema(`{
				"type": "object",
				"required": ["text"],
				"properties": {
					"text": {"type": "string"}
				},
				"additionalProperties": false
			}`),
			ErrorCodes: []model.Code{model.CodePermissionRequired},
		},
	}
}
