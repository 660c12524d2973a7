// Package normalizer turns tabular rows into retrievable units.
package normalizer

import (
	"strings"

	"agrirag/internal/domain"
)

// Normalizer renders rows according to a Policy. It holds no mutable state
// and is safe for concurrent use.
type Normalizer struct {
	policy Policy
}

// New validates policy and returns a Normalizer. An empty separator falls
// back to DefaultSeparator.
func New(policy Policy) (*Normalizer, error) {
	if policy.Separator == "" {
		policy.Separator = DefaultSeparator
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	p := Policy{
		Fields:       append([]Field(nil), policy.Fields...),
		MetadataKeys: append([]string(nil), policy.MetadataKeys...),
		Separator:    policy.Separator,
	}
	return &Normalizer{policy: p}, nil
}

// Policy returns a copy of the active policy.
func (n *Normalizer) Policy() Policy {
	return Policy{
		Fields:       append([]Field(nil), n.policy.Fields...),
		MetadataKeys: append([]string(nil), n.policy.MetadataKeys...),
		Separator:    n.policy.Separator,
	}
}

// Normalize converts row into a unit. It reports false when no known field
// has a value. Origin is left for the caller to fill in.
func (n *Normalizer) Normalize(row domain.Row) (domain.Unit, bool) {
	statements := make([]string, 0, len(n.policy.Fields))
	for _, f := range n.policy.Fields {
		v := row.Get(f.Column)
		if v.IsBlank() {
			continue
		}
		var b strings.Builder
		b.WriteString(f.Label)
		b.WriteString(": ")
		b.WriteString(v.Text())
		if f.UnitColumn != "" {
			if u := row.Get(f.UnitColumn); !u.IsBlank() {
				b.WriteByte(' ')
				b.WriteString(u.Text())
			}
		}
		statements = append(statements, b.String())
	}
	if len(statements) == 0 {
		return domain.Unit{}, false
	}

	meta := make(map[string]any, len(n.policy.MetadataKeys)+2)
	for _, k := range n.policy.MetadataKeys {
		v := row.Get(k)
		if v.IsBlank() {
			continue
		}
		meta[k] = v.Scalar()
	}

	return domain.Unit{
		Text:     strings.Join(statements, n.policy.Separator),
		Metadata: meta,
	}, true
}
