// Package router picks the data sources most likely to answer a query.
// It issues one small classification call against the active backend and
// degrades to the full allowed set whenever that call misbehaves.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/policyradar/policyradar/internal/observe"
	"github.com/policyradar/policyradar/internal/provider"
	"github.com/policyradar/policyradar/internal/tools"
)

const maxSelectedSources = 6

// Selection is the routing outcome. Sources is never empty when the
// allowed set is non-empty.
type Selection struct {
	Sources   []string
	Rationale string
}

type Router struct {
	backend provider.Backend
	obs     *observe.Observer
}

func New(backend provider.Backend, obs *observe.Observer) *Router {
	return &Router{backend: backend, obs: obs}
}

func buildPrompt(query string, allowed []string) string {
	lines := make([]string, 0, len(allowed))
	for _, key := range allowed {
		lines = append(lines, fmt.Sprintf("- %s: %s - %s", key, tools.DisplayNames[key], tools.Descriptions[key]))
	}

	var sb strings.Builder
	sb.WriteString("You route user queries to the most relevant data sources.\n")
	sb.WriteString("Use the routing guidance and choose the sources most likely to contain authoritative results.\n")
	sb.WriteString(`Return STRICT JSON only: {"sources":["source_key",...], "rationale":"short"}.` + "\n")
	sb.WriteString("Choose 1-6 sources; choose fewer when the query is narrow.\n")
	sb.WriteString("Only choose from the allowed list.\n\n")
	sb.WriteString("User query: " + query + "\n\n")
	sb.WriteString("Allowed sources:\n")
	sb.WriteString(strings.Join(lines, "\n"))
	return sb.String()
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// extractJSONObject parses text as JSON, falling back to the first
// braced region when the model wrapped the object in prose.
func extractJSONObject(text string) map[string]any {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		return parsed
	}

	match := jsonObjectPattern.FindString(text)
	if match == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(match), &parsed); err != nil {
		return nil
	}
	return parsed
}

func (r *Router) classify(ctx context.Context, prompt string) (string, error) {
	turn := &provider.Turn{
		Messages: []provider.Message{{Role: provider.RoleUser, Content: prompt}},
	}
	result, err := r.backend.SubmitTurn(ctx, turn, nil)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

func parseSelection(raw string, allowed []string) (Selection, bool) {
	data := extractJSONObject(raw)
	if data == nil {
		return Selection{}, false
	}

	allowedSet := make(map[string]bool, len(allowed))
	for _, key := range allowed {
		allowedSet[key] = true
	}

	listed, _ := data["sources"].([]any)
	chosen := make([]string, 0, len(listed))
	seen := map[string]bool{}
	for _, entry := range listed {
		key, ok := entry.(string)
		if !ok || !allowedSet[key] || seen[key] {
			continue
		}
		seen[key] = true
		chosen = append(chosen, key)
		if len(chosen) == maxSelectedSources {
			break
		}
	}
	if len(chosen) == 0 {
		return Selection{}, false
	}

	rationale, _ := data["rationale"].(string)
	return Selection{Sources: chosen, Rationale: rationale}, true
}

// Resolve picks sources for the query from the allowed set. Any failure
// of the classification call, after one bare-JSON retry, falls back to
// the full allowed set. A context error is returned as-is so the caller
// can distinguish cancellation from degradation.
func (r *Router) Resolve(ctx context.Context, query string, allowed []string) (Selection, error) {
	allowed = append([]string(nil), allowed...)
	sort.Strings(allowed)

	if len(allowed) == 0 {
		return Selection{}, nil
	}
	if len(allowed) == 1 {
		return Selection{Sources: allowed, Rationale: "Only one source available."}, nil
	}

	prompt := buildPrompt(query, allowed)
	instructions := []string{"", "\n\nReturn ONLY the JSON object, with no other text before or after it."}

	for _, extra := range instructions {
		raw, err := r.classify(ctx, prompt+extra)
		if err != nil {
			if ctx.Err() != nil {
				return Selection{}, ctx.Err()
			}
			r.obs.Log().Warn().Str("error", err.Error()).Msg("Source routing call failed")
			break
		}

		if selection, ok := parseSelection(raw, allowed); ok {
			r.obs.Log().Info().
				Int("selected", len(selection.Sources)).
				Msg("Routed query to sources")
			return selection, nil
		}
		r.obs.Log().Warn().Str("raw", raw).Msg("Source routing returned no valid sources")
	}

	return Selection{
		Sources:   allowed,
		Rationale: "Auto selection failed; using all allowed sources.",
	}, nil
}
