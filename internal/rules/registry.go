package rules

import (
	"sort"
)

// Registry is the immutable, ordered rule set the engine evaluates.
// Rules are sorted by (priority desc, name asc) so evaluation order is
// deterministic regardless of registration order.
type Registry struct {
	rules []Rule
}

// NewRegistry validates and orders the given rules. Duplicate names and
// malformed metadata fail construction; a broken corpus must never reach
// evaluation.
func NewRegistry(rules []Rule) (*Registry, error) {
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		m := r.Meta()
		if err := validateMeta(m); err != nil {
			return nil, err
		}
		if seen[m.Name] {
			return nil, &ValidationError{Rule: m.Name, Reason: "duplicate rule name"}
		}
		seen[m.Name] = true
	}

	ordered := make([]Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		mi, mj := ordered[i].Meta(), ordered[j].Meta()
		if mi.Priority != mj.Priority {
			return mi.Priority > mj.Priority
		}
		return mi.Name < mj.Name
	})

	return &Registry{rules: ordered}, nil
}

// Rules returns the rules in evaluation order. The slice must not be
// mutated.
func (r *Registry) Rules() []Rule {
	return r.rules
}

// Len returns the number of registered rules.
func (r *Registry) Len() int {
	return len(r.rules)
}

// Lookup returns the rule with the given name, or nil.
func (r *Registry) Lookup(name string) Rule {
	for _, rule := range r.rules {
		if rule.Meta().Name == name {
			return rule
		}
	}
	return nil
}
