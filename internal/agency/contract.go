package agency

// Contract is the static capability table mapping action categories to the
// minimum tier required for autonomous execution. A counterpart exactly one
// tier below the minimum gets an advisory ruling: the action is proposed and
// logged but runs only after explicit confirmation. Unknown categories are
// always denied.
type Contract map[string]Tier

// DefaultContract is the built-in capability table.
func DefaultContract() Contract {
	return Contract{
		"memory.note":        1,
		"reminder.set":       2,
		"file.read":          2,
		"file.write":         3,
		"automation.trigger": 3,
		"shell.exec":         4,
	}
}

// requiredTier looks up the category's minimum tier.
func (c Contract) requiredTier(category string) (Tier, bool) {
	t, ok := c[category]
	return t, ok
}

// decide applies the tier comparison rule.
func (c Contract) decide(category string, current Tier) Decision {
	required, ok := c.requiredTier(category)
	if !ok {
		return DecisionDeny
	}
	switch {
	case current >= required:
		return DecisionAllow
	case current == required-1:
		return DecisionAdvise
	default:
		return DecisionDeny
	}
}
