package cfop

// Rule identifiers written verbatim into placement records.
const (
	// RuleDefer: a code is not in the registry, resolve by issuer identity.
	RuleDefer = "R1"

	// RuleAmbiguous: the codes span several groups (or none).
	RuleAmbiguous = "R2"

	// RuleSingleGroup: several codes, all in one group.
	RuleSingleGroup = "R2b"

	// RuleSingleton: exactly one code.
	RuleSingleton = "R3"
)

// DeferCategory is the category reported for documents handed to Stage-2.
const DeferCategory = "PASSAR PARA CLASSIFICADOR"

// Decision is the outcome of Stage-1 for one document.
type Decision struct {
	Category string
	Rule     string
	Deferred bool
}

// Classifier applies the registry rules to a document's code set.
type Classifier struct {
	reg *Registry
}

// NewClassifier returns a Stage-1 classifier bound to reg.
func NewClassifier(reg *Registry) *Classifier {
	return &Classifier{reg: reg}
}

// Registry returns the registry the classifier was built with.
func (c *Classifier) Registry() *Registry { return c.reg }

// Classify evaluates the rules in order: defer, singleton, single group,
// ambiguous. The defer rule wins even when the known codes alone would
// resolve. An empty code set falls through to the ambiguous rule.
func (c *Classifier) Classify(codes []string) Decision {
	set := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		set[code] = struct{}{}
	}

	groups := make(map[string]struct{})
	for code := range set {
		g, ok := c.reg.GroupOf(code)
		if !ok {
			return Decision{Category: DeferCategory, Rule: RuleDefer, Deferred: true}
		}
		groups[g] = struct{}{}
	}

	if len(set) == 1 {
		for g := range groups {
			return Decision{Category: g, Rule: RuleSingleton}
		}
		return Decision{Category: c.reg.CatchAll(), Rule: RuleSingleton}
	}

	if len(groups) == 1 {
		for g := range groups {
			if g == c.reg.CatchAll() {
				return Decision{Category: c.reg.CatchAll(), Rule: RuleSingleGroup}
			}
			return Decision{Category: g, Rule: RuleSingleGroup}
		}
	}

	return Decision{Category: c.reg.CatchAll(), Rule: RuleAmbiguous}
}
