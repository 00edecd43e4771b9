package runtime

import (
	"context"
	"fmt"
	"strings"
)

// TransformRule is one entry of a JsonInput's transform_rule map (spec
// §4.5, §6's JsonInput rule format).
type TransformRule struct {
	// Kind selects which field below is populated.
	Kind TransformRuleKind
	// Value is used when Kind == RuleValue: a literal.
	Value any
	// Quote is used when Kind == RuleQuote: a dotted "node.path" read
	// against Context.vars.
	Quote string
	// Format is used when Kind == RuleFormat: names whose
	// "${{name}}" occurrences are substituted into the target string.
	Format []string
}

// TransformRuleKind discriminates TransformRule's variants.
type TransformRuleKind int

const (
	RuleValue TransformRuleKind = iota
	RuleQuote
	RuleFormat
)

// JsonInput is a ServiceEntity's input transform configuration: a
// default JSON document, a set of dotted-path overrides, and a policy
// for missing Quote references (spec §4.5).
type JsonInput struct {
	DefaultJSON      any
	TransformRules   map[string]TransformRule
	SkipMissingQuote bool
}

// tokenOpen and tokenClose delimit a single "${{name.path}}" token.
const tokenOpen = "${{"
const tokenClose = "}}"

// liftTokens scans raw for "${{name.path}}" tokens and returns the
// equivalent transform rules, auto-lifted at first use (spec §C.3): a
// lone token occupying the whole string lifts to Quote, otherwise the
// string (with its tokens left as "${{name}}" placeholders) lifts to
// Format. rules is mutated in place, keyed by dotted path.
func liftTokens(path string, raw string, rules map[string]TransformRule) {
	names := extractTokenNames(raw)
	if len(names) == 0 {
		return
	}
	if len(names) == 1 && raw == tokenOpen+names[0]+tokenClose {
		rules[path] = TransformRule{Kind: RuleQuote, Quote: names[0]}
		return
	}
	rules[path] = TransformRule{Kind: RuleFormat, Format: names}
}

func extractTokenNames(s string) []string {
	var names []string
	for {
		start := strings.Index(s, tokenOpen)
		if start < 0 {
			break
		}
		rest := s[start+len(tokenOpen):]
		end := strings.Index(rest, tokenClose)
		if end < 0 {
			break
		}
		names = append(names, strings.TrimSpace(rest[:end]))
		s = rest[end+len(tokenClose):]
	}
	return names
}

// Resolve walks ji.DefaultJSON, applying every transform rule (explicit
// or auto-lifted from "${{...}}" tokens) against rc, and returns the
// resolved document as a Cell.
func (ji JsonInput) Resolve(rc *Context) (Cell, error) {
	rules := make(map[string]TransformRule, len(ji.TransformRules))
	for k, v := range ji.TransformRules {
		rules[k] = v
	}
	resolved, err := resolveNode(rc, "", ji.DefaultJSON, rules, ji.SkipMissingQuote)
	if err != nil {
		return nil, err
	}
	return NewJSONCell(resolved)
}

// resolveNode walks v, lifting and applying transform rules at every
// dotted path along the way.
func resolveNode(rc *Context, path string, v any, rules map[string]TransformRule, skipMissing bool) (any, error) {
	lookup := path
	if lookup == "" {
		lookup = "*"
	}
	if rule, explicit := rules[lookup]; explicit {
		return applyRule(rc, path, rule, skipMissing)
	}
	if s, ok := v.(string); ok {
		if names := extractTokenNames(s); len(names) > 0 {
			liftTokens(path, s, rules)
			return applyRuleOnString(rc, path, rules[path], s, skipMissing)
		}
		return s, nil
	}
	switch vv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(vv))
		for k, child := range vv {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			resolvedChild, err := resolveNode(rc, childPath, child, rules, skipMissing)
			if err != nil {
				return nil, err
			}
			out[k] = resolvedChild
		}
		return out, nil
	case []any:
		out := make([]any, len(vv))
		for i, child := range vv {
			childPath := fmt.Sprintf("%s.%d", path, i)
			resolvedChild, err := resolveNode(rc, childPath, child, rules, skipMissing)
			if err != nil {
				return nil, err
			}
			out[i] = resolvedChild
		}
		return out, nil
	default:
		return v, nil
	}
}

// applyRule handles explicit (non-string-derived) rules: Value and
// Quote. RuleFormat always originates from a string node, so it's
// handled by applyRuleOnString instead.
func applyRule(rc *Context, path string, rule TransformRule, skipMissing bool) (any, error) {
	switch rule.Kind {
	case RuleValue:
		return rule.Value, nil
	case RuleQuote:
		return quoteValue(rc, path, rule.Quote, skipMissing)
	case RuleFormat:
		return nil, fmt.Errorf("runtime: RuleFormat requires the original string; use applyRuleOnString")
	default:
		return nil, fmt.Errorf("runtime: unknown transform rule kind %d", rule.Kind)
	}
}

// applyRuleOnString handles a rule derived from a literal string node:
// RuleQuote replaces the whole value; RuleFormat substitutes every
// "${{name}}" occurrence in original with the string form of the
// referenced var.
func applyRuleOnString(rc *Context, path string, rule TransformRule, original string, skipMissing bool) (any, error) {
	switch rule.Kind {
	case RuleValue:
		return rule.Value, nil
	case RuleQuote:
		return quoteValue(rc, path, rule.Quote, skipMissing)
	case RuleFormat:
		out := original
		for _, name := range rule.Format {
			val, ok := rc.GetVarField(name)
			if !ok {
				if skipMissing {
					out = strings.ReplaceAll(out, tokenOpen+name+tokenClose, "")
					continue
				}
				return nil, newError(KindNodeEntityNotFound, name, fmt.Errorf("quote reference %q at %q not found in vars", name, path))
			}
			out = strings.ReplaceAll(out, tokenOpen+name+tokenClose, fmt.Sprintf("%v", val))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("runtime: unknown transform rule kind %d", rule.Kind)
	}
}

func quoteValue(rc *Context, path, quote string, skipMissing bool) (any, error) {
	val, ok := rc.GetVarField(quote)
	if !ok {
		if skipMissing {
			return nil, nil
		}
		return nil, newError(KindNodeEntityNotFound, quote, fmt.Errorf("quote reference %q at %q not found in vars", quote, path))
	}
	return val, nil
}

// JSONService adapts a typed handler to Service, bridging through
// JsonInput resolution on the way in (when se.Config is a JsonInput)
// and JSON serialization on the way out (spec §4.5's "JsonServiceExt").
type JSONService struct {
	// Handle receives the resolved input document and returns the value
	// to serialize as this node's OutputCell.
	Handle func(ctx context.Context, rc *Context, se ServiceEntity, input any) (any, error)
}

// Call implements Service.
func (s JSONService) Call(ctx context.Context, rc *Context, se ServiceEntity) (Cell, error) {
	var input any
	if ji, ok := se.Config.(JsonInput); ok {
		cell, err := ji.Resolve(rc)
		if err != nil {
			return nil, err
		}
		input, _ = cell.Get("*")
	} else {
		input = se.Config
	}

	out, err := s.Handle(ctx, rc, se, input)
	if err != nil {
		return nil, err
	}
	return NewJSONCell(out)
}
