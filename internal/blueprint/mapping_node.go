package blueprint

// MappingNodeKind tags which variant of MappingNode is populated.
type MappingNodeKind int

const (
	MappingNodeKindScalar MappingNodeKind = iota
	MappingNodeKindMapping
	MappingNodeKindSequence
	MappingNodeKindSubstitution
	MappingNodeKindNull
)

// SubstitutionFragment is one literal-or-variable piece of a substitution
// string such as "prefix-${variables.Name}-suffix".
type SubstitutionFragment struct {
	IsVariable bool
	Literal    string
	Variable   string // name after "variables." once IsVariable is true
}

// SubstitutionString carries the ordered list of fragments that make up a
// `${...}` templated string; render joins the fragments back into that
// source text. The loader resolves substitutions to scalars directly and
// does not build these nodes.
type SubstitutionString struct {
	Fragments []SubstitutionFragment
}

// MappingNode is the recursive union described in spec.md §3: a scalar, a
// mapping (insertion order kept for determinism though not semantically
// required), a sequence, a substitution-string, or null.
type MappingNode struct {
	Kind MappingNodeKind

	ScalarVal  Scalar
	MappingVal *OrderedMapping
	SeqVal     []*MappingNode
	SubstVal   *SubstitutionString
}

func NewScalarNode(s Scalar) *MappingNode {
	return &MappingNode{Kind: MappingNodeKindScalar, ScalarVal: s}
}

func NewNullNode() *MappingNode { return &MappingNode{Kind: MappingNodeKindNull} }

func NewMappingNode(m *OrderedMapping) *MappingNode {
	return &MappingNode{Kind: MappingNodeKindMapping, MappingVal: m}
}

func NewSequenceNode(seq []*MappingNode) *MappingNode {
	return &MappingNode{Kind: MappingNodeKindSequence, SeqVal: seq}
}

func NewSubstitutionNode(s *SubstitutionString) *MappingNode {
	return &MappingNode{Kind: MappingNodeKindSubstitution, SubstVal: s}
}

// OrderedMapping is a string-keyed map with unique keys; insertion order is
// tracked only so that serialisation round-trips are deterministic — spec.md
// §3 states order is not semantically significant.
type OrderedMapping struct {
	keys   []string
	values map[string]*MappingNode
}

func NewOrderedMapping() *OrderedMapping {
	return &OrderedMapping{values: make(map[string]*MappingNode)}
}

func (m *OrderedMapping) Set(key string, value *MappingNode) {
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

func (m *OrderedMapping) Get(key string) (*MappingNode, bool) {
	v, ok := m.values[key]
	return v, ok
}

func (m *OrderedMapping) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

func (m *OrderedMapping) Len() int { return len(m.keys) }

// ToJSONValue collapses the node into a plain Go value (map[string]any,
// []any, string, int64, float64, bool, or nil) suitable for json.Marshal or
// for feeding into internal/template.
func (n *MappingNode) ToJSONValue() any {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case MappingNodeKindScalar:
		return n.ScalarVal.Value()
	case MappingNodeKindNull:
		return nil
	case MappingNodeKindSequence:
		out := make([]any, len(n.SeqVal))
		for i, child := range n.SeqVal {
			out[i] = child.ToJSONValue()
		}
		return out
	case MappingNodeKindMapping:
		out := make(map[string]any, n.MappingVal.Len())
		for _, k := range n.MappingVal.Keys() {
			child, _ := n.MappingVal.Get(k)
			out[k] = child.ToJSONValue()
		}
		return out
	case MappingNodeKindSubstitution:
		// Unresolved substitution strings stringify to their literal form;
		// by the time a blueprint is "resolved" this case should not occur.
		return n.SubstVal.render()
	default:
		return nil
	}
}

func (s *SubstitutionString) render() string {
	out := ""
	for _, f := range s.Fragments {
		if f.IsVariable {
			out += "${variables." + f.Variable + "}"
		} else {
			out += f.Literal
		}
	}
	return out
}
