package domain

import "time"

// ParamKind tags how an action parameter gets its value at call time.
type ParamKind string

const (
	// ParamKindDynamic values are supplied by the agent in the tool call
	ParamKindDynamic ParamKind = "dynamic"
	// ParamKindValue values are fixed in the action definition
	ParamKindValue ParamKind = "value"
	// ParamKindDerived values are pulled from session state (e.g. a
	// verified email) and fail closed when that state is absent
	ParamKindDerived ParamKind = "derived"
)

// ParamType is the declared JSON type of a dynamic parameter.
type ParamType string

const (
	ParamTypeString  ParamType = "string"
	ParamTypeNumber  ParamType = "number"
	ParamTypeBoolean ParamType = "boolean"
)

// SecretPlaceholder marks a static parameter value that must be replaced
// with the server-held secret immediately before the outbound call.
const SecretPlaceholder = "{{secret}}"

// DerivedEmailMarker in a derived parameter description resolves to the
// session's verified email.
const DerivedEmailMarker = "verified-email"

// ActionParam is one parameter of an HTTP action.
type ActionParam struct {
	Name        string    `json:"name"`
	Kind        ParamKind `json:"kind"`
	Type        ParamType `json:"type"`
	Description string    `json:"description,omitempty"`
	Value       string    `json:"value,omitempty"`
	Required    bool      `json:"required"`
}

// ActionDefinition describes one callable HTTP action exposed to the agent.
type ActionDefinition struct {
	ID              string        `json:"id"`
	Title           string        `json:"title"`
	Description     string        `json:"description"`
	Method          string        `json:"method"`
	URL             string        `json:"url"`
	Params          []ActionParam `json:"params"`
	RequireIdentity bool          `json:"require_identity"`
}

// DynamicParams returns the parameters the agent must supply, i.e. the
// schema surface exposed in the tool definition.
func (d *ActionDefinition) DynamicParams() []ActionParam {
	out := make([]ActionParam, 0, len(d.Params))
	for _, p := range d.Params {
		if p.Kind == ParamKindDynamic {
			out = append(out, p)
		}
	}
	return out
}

// ActionCall is the audit record of one executed (or failed) action.
type ActionCall struct {
	ID         string
	ActionID   string
	SessionID  string
	Input      map[string]any
	Response   string
	StatusCode int
	CreatedAt  time.Time
}

// DataGap is a knowledge gap reported by the agent.
type DataGap struct {
	ID          string
	SessionID   string
	Title       string
	Description string
	CreatedAt   time.Time
}
