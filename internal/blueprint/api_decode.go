package blueprint

// CorsSpec is the resolved `cors` block of an `api` resource's spec.
type CorsSpec struct {
	AllowOrigins []string
	AllowMethods []string
	AllowHeaders []string
}

// GuardRef names one entry of an ordered guard list: a guard kind
// ("jwt" or "custom") plus, for "custom", the registered handler name.
type GuardRef struct {
	Kind string
	Name string
}

// APISpec is the resolved `spec` of a Type==ResourceTypeAPI resource,
// per spec.md §4.7: CORS configuration and the default guard chain
// applied to handlers that don't declare their own `protectedBy`.
type APISpec struct {
	Cors         CorsSpec
	DefaultGuard []GuardRef
	AuthStrategy string // "connect" | "" (per-message, default)
}

// DecodeAPISpec decodes an api resource's spec MappingNode.
func DecodeAPISpec(spec *MappingNode) APISpec {
	out := APISpec{}
	raw, ok := asMap(spec)
	if !ok {
		return out
	}
	if corsRaw, ok := mapField(raw, "cors"); ok {
		out.Cors.AllowOrigins, _ = stringSliceField(corsRaw, "allowOrigins")
		out.Cors.AllowMethods, _ = stringSliceField(corsRaw, "allowMethods")
		out.Cors.AllowHeaders, _ = stringSliceField(corsRaw, "allowHeaders")
	}
	out.DefaultGuard = decodeGuardList(raw, "defaultGuard")
	out.AuthStrategy, _ = stringField(raw, "authStrategy")
	return out
}

func decodeGuardList(raw map[string]*MappingNode, key string) []GuardRef {
	node, ok := raw[key]
	if !ok {
		return nil
	}
	switch node.Kind {
	case MappingNodeKindScalar:
		if node.ScalarVal.Kind == ScalarKindString {
			return []GuardRef{parseGuardRef(node.ScalarVal.Str)}
		}
	case MappingNodeKindSequence:
		refs := make([]GuardRef, 0, len(node.SeqVal))
		for _, v := range node.SeqVal {
			if v.Kind == MappingNodeKindScalar && v.ScalarVal.Kind == ScalarKindString {
				refs = append(refs, parseGuardRef(v.ScalarVal.Str))
			}
		}
		return refs
	}
	return nil
}

// parseGuardRef parses a guard reference of the form "jwt" or
// "custom:guardName" as carried by a `protectedBy`/`defaultGuard`
// annotation's comma-separated entries.
func parseGuardRef(s string) GuardRef {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return GuardRef{Kind: s[:i], Name: s[i+1:]}
		}
	}
	return GuardRef{Kind: s}
}

// ParseGuardRefList splits a comma-separated `protectedBy` annotation
// value into guard references, in order.
func ParseGuardRefList(s string) []GuardRef {
	if s == "" {
		return nil
	}
	var refs []GuardRef
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				refs = append(refs, parseGuardRef(trimSpace(s[start:i])))
			}
			start = i + 1
		}
	}
	return refs
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}

// HandlerSpec is the resolved annotation surface of a `handler`
// resource: HTTP method/path, protection overrides, and visibility,
// per spec.md §4.7 ("registers one route per declared handler using
// the handler's HTTP method and path annotation").
type HandlerSpec struct {
	Method      string
	Path        string
	ProtectedBy []GuardRef
	Public      bool
}

// DecodeHandlerSpec reads the HTTP routing annotations off a handler
// resource's Metadata.Annotations.
func DecodeHandlerSpec(meta ResourceMetadata) HandlerSpec {
	out := HandlerSpec{}
	if v, ok := meta.Annotations["method"]; ok && v.Kind == ScalarKindString {
		out.Method = v.Str
	}
	if v, ok := meta.Annotations["http.method"]; ok && v.Kind == ScalarKindString && out.Method == "" {
		out.Method = v.Str
	}
	if v, ok := meta.Annotations["path"]; ok && v.Kind == ScalarKindString {
		out.Path = v.Str
	}
	if v, ok := meta.Annotations["http.path"]; ok && v.Kind == ScalarKindString && out.Path == "" {
		out.Path = v.Str
	}
	if v, ok := meta.Annotations["protectedBy"]; ok && v.Kind == ScalarKindString {
		out.ProtectedBy = ParseGuardRefList(v.Str)
	}
	if v, ok := meta.Annotations["public"]; ok && v.Kind == ScalarKindBool {
		out.Public = v.Bool
	}
	return out
}
