package calltrace

import (
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cockroachdb/errors"
)

// Matcher tests a call-site path or owner identifier.
type Matcher interface {
	Match(s string) bool
	String() string
}

// Pattern prefixes understood by ParseMatcher. Unprefixed patterns are
// unanchored regular expressions.
const (
	globPrefix    = "glob:"
	literalPrefix = "literal:"
)

type literalMatcher string

func (l literalMatcher) Match(s string) bool { return string(l) == s }
func (l literalMatcher) String() string     { return literalPrefix + string(l) }

type regexpMatcher struct {
	re *regexp.Regexp
}

func (r regexpMatcher) Match(s string) bool { return r.re.MatchString(s) }
func (r regexpMatcher) String() string     { return r.re.String() }

type globMatcher string

func (g globMatcher) Match(s string) bool {
	ok, err := doublestar.Match(string(g), s)
	return err == nil && ok
}

func (g globMatcher) String() string { return globPrefix + string(g) }

// Literal matches s by equality.
func Literal(s string) Matcher {
	return literalMatcher(s)
}

// Regexp matches anywhere in the input.
func Regexp(re *regexp.Regexp) Matcher {
	return regexpMatcher{re: re}
}

// ParseMatcher compiles a configured pattern.
func ParseMatcher(pattern string) (Matcher, error) {
	switch {
	case strings.HasPrefix(pattern, literalPrefix):
		return Literal(strings.TrimPrefix(pattern, literalPrefix)), nil
	case strings.HasPrefix(pattern, globPrefix):
		glob := strings.TrimPrefix(pattern, globPrefix)
		if !doublestar.ValidatePattern(glob) {
			return nil, errors.Newf("invalid glob pattern %q", glob)
		}
		return globMatcher(glob), nil
	default:
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid pattern %q", pattern)
		}
		return Regexp(re), nil
	}
}

// Policy decides whether a component is instrumented.
type Policy struct {
	Include []Matcher
	Exclude []Matcher
}

// CompilePolicy parses include and exclude patterns in order.
func CompilePolicy(include, exclude []string) (Policy, error) {
	var p Policy
	for _, pattern := range include {
		m, err := ParseMatcher(pattern)
		if err != nil {
			return Policy{}, errors.Wrap(err, "include")
		}
		p.Include = append(p.Include, m)
	}
	for _, pattern := range exclude {
		m, err := ParseMatcher(pattern)
		if err != nil {
			return Policy{}, errors.Wrap(err, "exclude")
		}
		p.Exclude = append(p.Exclude, m)
	}
	return p, nil
}

// Allows reports whether path or owner is included and neither is excluded.
// An empty include list includes everything.
func (p Policy) Allows(path, owner string) bool {
	included := len(p.Include) == 0 || anyMatch(p.Include, path) || anyMatch(p.Include, owner)
	if !included {
		return false
	}
	return !anyMatch(p.Exclude, path) && !anyMatch(p.Exclude, owner)
}

func anyMatch(matchers []Matcher, s string) bool {
	for _, m := range matchers {
		if m.Match(s) {
			return true
		}
	}
	return false
}
