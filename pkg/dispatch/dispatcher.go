// Package dispatch maps remote tool-call requests onto Home Assistant
// service invocations under policy constraints. Validation happens here
// regardless of what was exposed in the curated context: the model is an
// untrusted input source and may name entities it was never shown.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/hearthware/go-hearth/internal/log"
	"github.com/hearthware/go-hearth/pkg/hass"
	"github.com/hearthware/go-hearth/pkg/policy"
	"github.com/hearthware/go-hearth/pkg/voice"
)

// ControlToolName is the single control function exposed to the model.
const ControlToolName = "control_home_assistant"

// Machine-readable failure reasons delivered back to the model.
const (
	ReasonUnknownTool        = "unknown tool"
	ReasonInvalidArgs        = "invalid arguments"
	ReasonMissingService     = "domain/service missing"
	ReasonDomainNotPermitted = "domain not permitted"
	ReasonEntityNotPermitted = "entity not permitted"
	ReasonUnauthorized       = "home assistant unauthorized"
	ReasonTimeout            = "home assistant timeout"
)

// DefaultCallTimeout bounds a single Home Assistant service call.
const DefaultCallTimeout = 8 * time.Second

// Invoker is the subset of the Home Assistant client the dispatcher
// needs. *hass.Client satisfies it.
type Invoker interface {
	CallService(ctx context.Context, domain, service string, data map[string]any) error
}

// Dispatcher validates and executes tool calls. Every Dispatch returns
// exactly one result bearing the request's call ID; failures are values,
// never panics, so the model is never left waiting on a dropped request.
type Dispatcher struct {
	invoker Invoker
	policy  *policy.Policy
	timeout time.Duration
}

// New creates a Dispatcher. A zero timeout uses DefaultCallTimeout.
func New(invoker Invoker, pol *policy.Policy, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Dispatcher{invoker: invoker, policy: pol, timeout: timeout}
}

// ControlTool returns the tool declaration registered with the remote
// session.
func ControlTool() voice.Tool {
	return voice.Tool{
		Name: ControlToolName,
		Description: "Call a Home Assistant service to control devices. " +
			"Prefer entity_id from the provided device list.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"domain": map[string]any{
					"type":        "string",
					"description": "Home Assistant domain, e.g. light, switch, cover, climate, lock, scene, script",
				},
				"service": map[string]any{
					"type":        "string",
					"description": "Service name, e.g. turn_on, turn_off, toggle, set_temperature, open_cover",
				},
				"entity_id": map[string]any{
					"type":        "string",
					"description": "Exact entity_id for the target device (preferred).",
				},
				"service_data_json": map[string]any{
					"type": "string",
					"description": "Optional JSON object (as a string) with extra service fields, " +
						`e.g. {"brightness": 128} or {"temperature": 72}.`,
				},
			},
			"required": []string{"domain", "service"},
		},
	}
}

// Dispatch executes one tool call and returns its result. The context
// bounds the whole dispatch including the single timeout retry.
func (d *Dispatcher) Dispatch(ctx context.Context, call voice.ToolCall) voice.ToolResult {
	fail := func(reason string) voice.ToolResult {
		return voice.ToolResult{CallID: call.ID, Name: call.Name, OK: false, Detail: reason}
	}

	if call.Name != ControlToolName {
		return fail(ReasonUnknownTool)
	}
	if call.Arguments == nil {
		return fail(ReasonInvalidArgs)
	}

	domain := stringArg(call.Arguments, "domain")
	service := stringArg(call.Arguments, "service")
	entityID := stringArg(call.Arguments, "entity_id")
	if domain == "" || service == "" {
		return fail(ReasonMissingService)
	}

	// Context curation is a hint to the model, not a security boundary;
	// re-check policy here.
	if !d.policy.AllowsDomain(domain) {
		return fail(ReasonDomainNotPermitted)
	}
	if entityID != "" {
		if !d.policy.AllowsDomain(policy.EntityDomain(entityID)) {
			return fail(ReasonDomainNotPermitted)
		}
		if !d.policy.AllowsEntity(entityID) {
			return fail(ReasonEntityNotPermitted)
		}
	}

	data := make(map[string]any)
	if entityID != "" {
		data["entity_id"] = entityID
	}
	// Malformed extra JSON is ignored, not fatal.
	if raw := stringArg(call.Arguments, "service_data_json"); raw != "" {
		var extra map[string]any
		if err := json.Unmarshal([]byte(raw), &extra); err == nil {
			for k, v := range extra {
				data[k] = v
			}
		} else {
			log.Debug("dispatch: ignoring malformed service_data_json", "err", err)
		}
	}

	err := d.call(ctx, domain, service, data)
	if errors.Is(err, hass.ErrTimeout) {
		// At most one retry, and only for timeouts.
		log.Warn("dispatch: service call timed out, retrying once",
			"domain", domain, "service", service)
		err = d.call(ctx, domain, service, data)
	}

	switch {
	case err == nil:
		return voice.ToolResult{CallID: call.ID, Name: call.Name, OK: true, Detail: "ok"}
	case errors.Is(err, hass.ErrTimeout):
		return fail(ReasonTimeout)
	case errors.Is(err, hass.ErrUnauthorized):
		return fail(ReasonUnauthorized)
	default:
		return fail(err.Error())
	}
}

func (d *Dispatcher) call(ctx context.Context, domain, service string, data map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.invoker.CallService(ctx, domain, service, data)
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}
