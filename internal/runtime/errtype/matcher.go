package errtype

// Matcher decides whether an error type is selected by an acceptor.
type Matcher interface {
	Match(t *ErrorType) bool
	// MatchesAny is true only for matchers that select every type of the ANY tree.
	MatchesAny() bool
}

type singleMatcher struct {
	target *ErrorType
	any    bool
}

// Single matches target and all of its descendants.
func Single(target *ErrorType) Matcher {
	return singleMatcher{target: target, any: target != nil && target.Parent() == nil && target.Identifier() == Any}
}

func (m singleMatcher) Match(t *ErrorType) bool {
	if t == nil || m.target == nil {
		return false
	}
	return t.Is(m.target)
}

func (m singleMatcher) MatchesAny() bool { return m.any }

type disjunctiveMatcher []Matcher

// OneOf matches when any of the given matchers does.
func OneOf(matchers ...Matcher) Matcher {
	if len(matchers) == 1 {
		return matchers[0]
	}
	return disjunctiveMatcher(matchers)
}

func (d disjunctiveMatcher) Match(t *ErrorType) bool {
	for _, m := range d {
		if m.Match(t) {
			return true
		}
	}
	return false
}

func (d disjunctiveMatcher) MatchesAny() bool {
	for _, m := range d {
		if m.MatchesAny() {
			return true
		}
	}
	return false
}

// Parse builds a matcher from a list of identities. An empty list matches ANY.
func (r *Repository) Parse(identities ...string) (Matcher, error) {
	if len(identities) == 0 {
		return Single(r.anyType), nil
	}
	matchers := make([]Matcher, 0, len(identities))
	for _, identity := range identities {
		t, err := r.Lookup(identity)
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, Single(t))
	}
	return OneOf(matchers...), nil
}
