package blueprint

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var structValidator = validator.New()

// ErrConfiguration marks a fatal startup-time configuration error per
// spec.md §7 ("Configuration errors ... fatal at startup").
type ErrConfiguration struct {
	Reason string
}

func (e *ErrConfiguration) Error() string { return "blueprint configuration error: " + e.Reason }

var substitutionPattern = regexp.MustCompile(`\$\{([^}]*)\}`)
var variableRefPattern = regexp.MustCompile(`^variables\.([A-Za-z0-9_]+)$`)

// EnvLookup abstracts environment variable access for testability.
type EnvLookup func(key string) (string, bool)

func osEnvLookup(key string) (string, bool) { return os.LookupEnv(key) }

// Load reads a blueprint document (YAML, or JSON, which the YAML decoder
// also accepts) from path, resolves every ${variables.NAME} substitution
// against CELERITY_VARIABLE_<NAME> environment entries, and returns the
// resolved Blueprint. Unrecognised resource types are skipped, with a
// message passed to warn; unknown substitutions are fatal.
func Load(path string, warn func(string)) (*Blueprint, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &ErrConfiguration{Reason: fmt.Sprintf("reading blueprint %s: %v", path, err)}
	}
	return LoadBytes(raw, osEnvLookup, warn)
}

// LoadBytes parses and resolves a blueprint document already in memory.
func LoadBytes(raw []byte, env EnvLookup, warn func(string)) (*Blueprint, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, &ErrConfiguration{Reason: "parsing blueprint document: " + err.Error()}
	}

	version, _ := doc["version"].(string)
	if version == "" {
		return nil, &ErrConfiguration{Reason: "missing required top-level field: version"}
	}

	bp := &Blueprint{
		Version:   version,
		Variables: map[string]VariableDefinition{},
		Resources: map[string]Resource{},
	}

	bp.Transform = parseTransform(doc["transform"])

	if rawVars, ok := doc["variables"].(map[string]any); ok {
		for name, v := range rawVars {
			bp.Variables[name] = parseVariableDefinition(v)
		}
	}

	rawResources, _ := doc["resources"].(map[string]any)
	if len(rawResources) == 0 {
		return nil, &ErrConfiguration{Reason: "blueprint must declare at least one resource"}
	}

	for name, rv := range rawResources {
		rmap, ok := rv.(map[string]any)
		if !ok {
			continue
		}
		typeStr, _ := rmap["type"].(string)
		if !isKnownResourceType(typeStr) {
			if warn != nil {
				warn(fmt.Sprintf("skipping resource %q: unrecognised type %q", name, typeStr))
			}
			continue
		}

		resource, err := parseResource(rmap, env)
		if err != nil {
			return nil, err
		}
		bp.Resources[name] = resource
	}

	if rawMeta, ok := doc["metadata"].(map[string]any); ok {
		if shared, ok := rawMeta["sharedHandlerConfig"]; ok {
			node, err := resolveValue(shared, "metadata.sharedHandlerConfig", env)
			if err != nil {
				return nil, err
			}
			bp.Metadata.SharedHandlerConfig = node
		}
	}

	if err := structValidator.Struct(bp); err != nil {
		return nil, &ErrConfiguration{Reason: "validating blueprint: " + err.Error()}
	}

	return bp, nil
}

func parseTransform(v any) []string {
	switch tv := v.(type) {
	case string:
		return []string{tv}
	case []any:
		out := make([]string, 0, len(tv))
		for _, item := range tv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func parseVariableDefinition(v any) VariableDefinition {
	def := VariableDefinition{}
	m, ok := v.(map[string]any)
	if !ok {
		return def
	}
	def.Type, _ = m["type"].(string)
	def.Secret, _ = m["secret"].(bool)
	def.Description, _ = m["description"].(string)
	if dv, ok := m["default"]; ok {
		if s, ok := ScalarFromAny(dv); ok {
			def.Default = &s
		}
	}
	if allowed, ok := m["allowedValues"].([]any); ok {
		for _, a := range allowed {
			if s, ok := ScalarFromAny(a); ok {
				def.AllowedValues = append(def.AllowedValues, s)
			}
		}
	}
	return def
}

func isKnownResourceType(t string) bool {
	switch ResourceType(t) {
	case ResourceTypeAPI, ResourceTypeConsumer, ResourceTypeSchedule, ResourceTypeHandler,
		ResourceTypeHandlerConfig, ResourceTypeWorkflow, ResourceTypeConfig, ResourceTypeBucket,
		ResourceTypeTopic, ResourceTypeQueue, ResourceTypeDatastore, ResourceTypeVPC:
		return true
	default:
		return false
	}
}

func parseResource(rmap map[string]any, env EnvLookup) (Resource, error) {
	resource := Resource{Type: ResourceType(rmap["type"].(string))}

	if metaRaw, ok := rmap["metadata"].(map[string]any); ok {
		resource.Metadata.DisplayName, _ = metaRaw["displayName"].(string)
		resource.Metadata.Labels = map[string]string{}
		if labels, ok := metaRaw["labels"].(map[string]any); ok {
			for k, v := range labels {
				if s, ok := v.(string); ok {
					resource.Metadata.Labels[k] = s
				}
			}
		}
		resource.Metadata.Annotations = map[string]Scalar{}
		if annotations, ok := metaRaw["annotations"].(map[string]any); ok {
			for k, v := range annotations {
				if s, ok := ScalarFromAny(v); ok {
					resource.Metadata.Annotations[k] = s
				}
			}
		}
	}

	if selRaw, ok := rmap["linkSelector"].(map[string]any); ok {
		resource.LinkSelector.ByLabel = map[string]string{}
		if byLabel, ok := selRaw["byLabel"].(map[string]any); ok {
			for k, v := range byLabel {
				if s, ok := v.(string); ok {
					resource.LinkSelector.ByLabel[k] = s
				}
			}
		}
	}

	resource.Description, _ = rmap["description"].(string)

	specRaw, ok := rmap["spec"]
	if !ok {
		specRaw = map[string]any{}
	}
	node, err := resolveValue(specRaw, "spec", env)
	if err != nil {
		return Resource{}, err
	}
	resource.Spec = node

	return resource, nil
}

// resolveValue recursively walks a decoded YAML/JSON value, substituting
// ${variables.NAME} references and collapsing the result to a MappingNode
// tree. Unknown substitutions are a fatal ErrConfiguration.
func resolveValue(v any, field string, env EnvLookup) (*MappingNode, error) {
	switch val := v.(type) {
	case nil:
		return NewNullNode(), nil
	case map[string]any:
		m := NewOrderedMapping()
		for k, child := range val {
			node, err := resolveValue(child, field+"."+k, env)
			if err != nil {
				return nil, err
			}
			m.Set(k, node)
		}
		return NewMappingNode(m), nil
	case []any:
		seq := make([]*MappingNode, 0, len(val))
		for i, child := range val {
			node, err := resolveValue(child, fmt.Sprintf("%s[%d]", field, i), env)
			if err != nil {
				return nil, err
			}
			seq = append(seq, node)
		}
		return NewSequenceNode(seq), nil
	case string:
		return resolveString(val, field, env)
	default:
		if s, ok := ScalarFromAny(val); ok {
			return NewScalarNode(s), nil
		}
		return NewNullNode(), nil
	}
}

func resolveString(s, field string, env EnvLookup) (*MappingNode, error) {
	matches := substitutionPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return NewScalarNode(NewStringScalar(s)), nil
	}

	// Whole-string single substitution: collapses to whatever scalar type
	// the variable holds, instead of being forced to a string.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		inner := s[matches[0][2]:matches[0][3]]
		return resolveSubstitutionExpr(inner, field, env)
	}

	out := strings.Builder{}
	last := 0
	for _, m := range matches {
		out.WriteString(s[last:m[0]])
		inner := s[m[2]:m[3]]
		node, err := resolveSubstitutionExpr(inner, field, env)
		if err != nil {
			return nil, err
		}
		out.WriteString(node.ScalarVal.String())
		last = m[1]
	}
	out.WriteString(s[last:])
	return NewScalarNode(NewStringScalar(out.String())), nil
}

func resolveSubstitutionExpr(expr, field string, env EnvLookup) (*MappingNode, error) {
	match := variableRefPattern.FindStringSubmatch(strings.TrimSpace(expr))
	if match == nil {
		return nil, &ErrConfiguration{Reason: fmt.Sprintf("unknown substitution %q in field %s (only ${variables.NAME} is supported)", expr, field)}
	}
	name := match[1]
	envKey := "CELERITY_VARIABLE_" + name
	value, ok := env(envKey)
	if !ok {
		return nil, &ErrConfiguration{Reason: fmt.Sprintf("missing variable %s (expected environment variable %s) referenced in field %s", name, envKey, field)}
	}
	if scalar, ok := ScalarFromAny(parseEnvScalar(value)); ok {
		return NewScalarNode(scalar), nil
	}
	return NewScalarNode(NewStringScalar(value)), nil
}

// parseEnvScalar lets an env-sourced variable value widen to bool/number
// when it unambiguously looks like one. The value is not checked against
// the variable's declared `type` in VariableDefinition.
func parseEnvScalar(raw string) any {
	var asJSON any
	if err := json.Unmarshal([]byte(raw), &asJSON); err == nil {
		switch asJSON.(type) {
		case bool, float64:
			return asJSON
		}
	}
	return raw
}
