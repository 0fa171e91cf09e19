package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/opalhq/opal/internal/domain"
)

// SecretResolver supplies the server-held value substituted for the secret
// placeholder. The resolved value never appears in tool output or audit
// records.
type SecretResolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// IdentityProvider answers whether a session has a verified identity and
// what its verified email is.
type IdentityProvider interface {
	VerifiedEmail(sessionID string) (string, bool)
}

const actionResponseLimit = 64 * 1024

// ActionTool executes one configured HTTP action on the agent's behalf.
// Each configured action becomes its own tool instance.
type ActionTool struct {
	def       domain.ActionDefinition
	sessionID string
	secrets   SecretResolver
	identity  IdentityProvider
	client    *http.Client
}

func NewActionTool(def domain.ActionDefinition, sessionID string, secrets SecretResolver, identity IdentityProvider) *ActionTool {
	return &ActionTool{
		def:       def,
		sessionID: sessionID,
		secrets:   secrets,
		identity:  identity,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *ActionTool) Name() string {
	return "action_" + t.def.ID
}

// Title is the action's display title, surfaced in stage events.
func (t *ActionTool) Title() string {
	return t.def.Title
}

func (t *ActionTool) Definition() openai.Tool {
	properties := map[string]any{}
	required := []string{}
	for _, p := range t.def.DynamicParams() {
		properties[p.Name] = map[string]any{
			"type":        string(p.Type),
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        t.Name(),
			Description: t.def.Description,
			Parameters: map[string]any{
				"type":       "object",
				"properties": properties,
				"required":   required,
			},
		},
	}
}

func (t *ActionTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	if t.def.RequireIdentity {
		if _, ok := t.identity.VerifiedEmail(t.sessionID); !ok {
			return Result{Content: fmt.Sprintf("The action %q requires a verified identity and this session has none. Ask the user to complete identity verification first; do not call this action again until they have.", t.def.Title)}, nil
		}
	}

	var input map[string]any
	if err := json.Unmarshal(args, &input); err != nil {
		return Result{}, domain.NewDomainErrorWithCause(domain.ErrCodeToolRejected, "malformed action arguments", err)
	}

	resolved, err := t.resolveParams(ctx, input)
	if err != nil {
		// Rejections surface as content so the agent can recover in-turn.
		var derr *domain.DomainError
		if errors.As(err, &derr) && derr.Code == domain.ErrCodeToolRejected {
			return Result{Content: derr.Message}, nil
		}
		return Result{}, err
	}

	call := &domain.ActionCall{
		ActionID:  t.def.ID,
		SessionID: t.sessionID,
		Input:     input,
		CreatedAt: time.Now().UTC(),
	}

	status, body, err := t.perform(ctx, resolved)
	call.StatusCode = status
	if err != nil {
		call.Response = err.Error()
		return Result{
			Content:    fmt.Sprintf("The action %q failed: %v. Apologize to the user and suggest trying again later.", t.def.Title, err),
			SideEffect: call,
		}, nil
	}
	call.Response = body

	return Result{Content: body, SideEffect: call}, nil
}

// resolveParams produces the full parameter set for the outbound call.
// Dynamic values come from the agent and are type-checked; value fields are
// static with the secret placeholder substituted last; derived fields pull
// from session state and fail closed when it is absent.
func (t *ActionTool) resolveParams(ctx context.Context, input map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(t.def.Params))
	for _, p := range t.def.Params {
		switch p.Kind {
		case domain.ParamKindDynamic:
			v, ok := input[p.Name]
			if !ok {
				if p.Required {
					return nil, domain.NewDomainError(domain.ErrCodeToolRejected, fmt.Sprintf("missing required parameter %q", p.Name))
				}
				continue
			}
			if err := checkParamType(p, v); err != nil {
				return nil, err
			}
			resolved[p.Name] = v

		case domain.ParamKindValue:
			value := p.Value
			if strings.Contains(value, domain.SecretPlaceholder) {
				secret, err := t.secrets.Resolve(ctx, t.def.ID)
				if err != nil {
					return nil, fmt.Errorf("failed to resolve action secret: %w", err)
				}
				value = strings.ReplaceAll(value, domain.SecretPlaceholder, secret)
			}
			resolved[p.Name] = value

		case domain.ParamKindDerived:
			if !strings.Contains(p.Description, domain.DerivedEmailMarker) {
				return nil, domain.NewDomainError(domain.ErrCodeToolRejected, fmt.Sprintf("parameter %q has no resolvable derived source", p.Name))
			}
			email, ok := t.identity.VerifiedEmail(t.sessionID)
			if !ok {
				return nil, domain.NewDomainError(domain.ErrCodeToolRejected, fmt.Sprintf("parameter %q requires a verified email and this session has none. Ask the user to verify their identity first.", p.Name))
			}
			resolved[p.Name] = email

		default:
			return nil, domain.NewDomainError(domain.ErrCodeValidation, fmt.Sprintf("unknown parameter kind %q", p.Kind))
		}
	}
	return resolved, nil
}

// perform issues the HTTP request. Parameters are substituted into {name}
// URL templates first; leftovers go to the query string for GET and to a
// JSON body otherwise.
func (t *ActionTool) perform(ctx context.Context, params map[string]any) (int, string, error) {
	target := t.def.URL
	remaining := make(map[string]any, len(params))
	for name, v := range params {
		placeholder := "{" + name + "}"
		if strings.Contains(target, placeholder) {
			target = strings.ReplaceAll(target, placeholder, url.PathEscape(stringifyParam(v)))
			continue
		}
		remaining[name] = v
	}

	method := strings.ToUpper(t.def.Method)
	var reqBody io.Reader
	if method == http.MethodGet {
		if len(remaining) > 0 {
			q := url.Values{}
			for name, v := range remaining {
				q.Set(name, stringifyParam(v))
			}
			sep := "?"
			if strings.Contains(target, "?") {
				sep = "&"
			}
			target += sep + q.Encode()
		}
	} else {
		encoded, err := json.Marshal(remaining)
		if err != nil {
			return 0, "", fmt.Errorf("failed to encode action body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return 0, "", fmt.Errorf("failed to build action request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("action request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, actionResponseLimit))
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("failed to read action response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return resp.StatusCode, string(body), fmt.Errorf("action returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, string(body), nil
}

func checkParamType(p domain.ActionParam, v any) error {
	ok := false
	switch p.Type {
	case domain.ParamTypeString:
		_, ok = v.(string)
	case domain.ParamTypeNumber:
		_, ok = v.(float64)
	case domain.ParamTypeBoolean:
		_, ok = v.(bool)
	}
	if !ok {
		return domain.NewDomainError(domain.ErrCodeToolRejected, fmt.Sprintf("parameter %q must be a %s", p.Name, p.Type))
	}
	return nil
}

func stringifyParam(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
