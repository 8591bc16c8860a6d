package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clawdbot/clawdbot/internal/sessions"
)

// modelDirective is a parsed leading "model=" directive.
type modelDirective struct {
	Reset    bool
	Provider string
	Model    string
}

func (d *modelDirective) ack() string {
	if d.Reset {
		return "Model override cleared."
	}
	if d.Provider != "" {
		return fmt.Sprintf("Model set to %s/%s.", d.Provider, d.Model)
	}
	return fmt.Sprintf("Model set to %s.", d.Model)
}

// stripModelDirective extracts a leading "model=<provider>/<model>" or
// "model=default" token. The remainder of the message is returned with
// the directive removed.
func stripModelDirective(message string) (string, *modelDirective) {
	trimmed := strings.TrimSpace(message)
	if !strings.HasPrefix(trimmed, "model=") {
		return message, nil
	}

	token := trimmed
	rest := ""
	if idx := strings.IndexAny(trimmed, " \t\n"); idx > 0 {
		token = trimmed[:idx]
		rest = strings.TrimSpace(trimmed[idx:])
	}

	value := strings.TrimPrefix(token, "model=")
	if value == "" {
		return message, nil
	}
	if value == "default" {
		return rest, &modelDirective{Reset: true}
	}

	d := &modelDirective{}
	if slash := strings.Index(value, "/"); slash > 0 {
		d.Provider = value[:slash]
		d.Model = value[slash+1:]
	} else {
		d.Model = value
	}
	if d.Model == "" {
		return message, nil
	}
	return rest, d
}

// applyDirective persists the directive onto the session entry. Reset
// clears provider and model together, which also drops any auth-profile
// override.
func (o *Orchestrator) applyDirective(sessionKey string, d *modelDirective) error {
	return o.store.Mutate(sessionKey, func(e *sessions.Entry) {
		if d.Reset {
			e.ResetModelOverride()
			return
		}
		e.SetModelOverride(d.Provider, d.Model)
	})
}

// decodeToolArgs parses the raw JSON arguments a model attached to a
// tool call. Empty arguments become an empty map.
func decodeToolArgs(raw string) (map[string]interface{}, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]interface{}{}, nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	return args, nil
}
