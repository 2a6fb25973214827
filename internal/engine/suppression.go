package engine

// applySuppression resolves rule suppression over the matched set by
// fixed-point iteration. A matched rule R contributes its blocks unless R
// itself is suppressed by something of equal-or-higher priority.
// Suppression is additive: names once suppressed stay suppressed, so the
// iteration is monotone and terminates.
func applySuppression(matches []*evaluation) {
	type suppressor struct {
		name     string
		priority int
	}
	suppressedBy := map[string]suppressor{}

	byName := map[string]*evaluation{}
	for _, ev := range matches {
		byName[ev.meta.Name] = ev
	}

	for changed := true; changed; {
		changed = false
		for _, ev := range matches {
			if s, ok := suppressedBy[ev.meta.Name]; ok && s.priority >= ev.meta.Priority {
				// This rule is genuinely suppressed; its blocks do not
				// take (further) effect this round.
				continue
			}
			for _, blocked := range ev.meta.Blocks {
				if _, ok := suppressedBy[blocked]; ok {
					continue
				}
				suppressedBy[blocked] = suppressor{name: ev.meta.Name, priority: ev.meta.Priority}
				changed = true
			}
		}
	}

	for name, s := range suppressedBy {
		if ev, ok := byName[name]; ok {
			ev.suppressed = true
			ev.suppressor = s.name
		}
	}
}
