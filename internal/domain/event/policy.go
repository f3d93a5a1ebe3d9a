package event

// RetentionPolicies maps stream domains to retention modes with a default
// fallback. It is immutable after construction, so concurrent reads from
// the append path and the archive coordinator need no locking.
type RetentionPolicies struct {
	fallback RetentionMode
	byDomain map[string]RetentionMode
}

func NewRetentionPolicies(fallback RetentionMode, byDomain map[string]RetentionMode) *RetentionPolicies {
	copied := make(map[string]RetentionMode, len(byDomain))
	for d, m := range byDomain {
		copied[d] = m
	}
	return &RetentionPolicies{fallback: fallback, byDomain: copied}
}

// DefaultRetentionPolicies keeps everything hot forever.
func DefaultRetentionPolicies() *RetentionPolicies {
	return NewRetentionPolicies(RetentionDefault, nil)
}

// Resolve returns the effective mode for a domain.
func (p *RetentionPolicies) Resolve(domain string) RetentionMode {
	if m, ok := p.byDomain[domain]; ok {
		return m
	}
	return p.fallback
}
