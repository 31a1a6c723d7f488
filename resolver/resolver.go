package resolver

import (
	"regexp"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// WildcardSingle matches exactly one non-empty segment.
	WildcardSingle = "*"
	// WildcardMulti matches zero or more segments.
	WildcardMulti = "#"

	delimiter = "."
)

// resultKey is the composite memoization key.
type resultKey struct {
	topic   string
	pattern string
}

// Resolver compiles binding patterns and memoizes match results.
// It is safe for concurrent use.
type Resolver struct {
	results *lru.Cache[resultKey, bool]

	// byPattern indexes memoized topics per pattern so Purge(ForPattern)
	// does not scan the whole cache. Kept in sync by the eviction callback.
	indexMu   sync.Mutex
	byPattern map[string]map[string]struct{}

	regexMu sync.RWMutex
	regex   map[string]*regexp.Regexp
}

// New creates a Resolver with its own caches.
func New(cfg Config) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Resolver{
		byPattern: make(map[string]map[string]struct{}),
		regex:     make(map[string]*regexp.Regexp),
	}
	results, err := lru.NewWithEvict[resultKey, bool](cfg.CacheSize, r.forget)
	if err != nil {
		return nil, err
	}
	r.results = results
	return r, nil
}

// Matches reports whether topic satisfies the binding pattern.
func (r *Resolver) Matches(pattern, topic string) bool {
	key := resultKey{topic: topic, pattern: pattern}
	if v, ok := r.results.Get(key); ok {
		return v
	}

	var result bool
	if !HasWildcards(pattern) {
		result = pattern == topic
	} else {
		result = r.expression(pattern).MatchString(topic)
	}
	r.results.Add(key, result)
	r.remember(key)
	return result
}

// remember indexes a cached key. A racing eviction can leave a stale entry
// behind; Purge tolerates those since removing a missing key is a no-op.
func (r *Resolver) remember(key resultKey) {
	r.indexMu.Lock()
	topics, ok := r.byPattern[key.pattern]
	if !ok {
		topics = make(map[string]struct{})
		r.byPattern[key.pattern] = topics
	}
	topics[key.topic] = struct{}{}
	r.indexMu.Unlock()
}

// forget is the cache eviction callback.
func (r *Resolver) forget(key resultKey, _ bool) {
	r.indexMu.Lock()
	if topics, ok := r.byPattern[key.pattern]; ok {
		delete(topics, key.topic)
		if len(topics) == 0 {
			delete(r.byPattern, key.pattern)
		}
	}
	r.indexMu.Unlock()
}

// expression returns the compiled form of pattern, compiling it at most once.
func (r *Resolver) expression(pattern string) *regexp.Regexp {
	r.regexMu.RLock()
	rgx, ok := r.regex[pattern]
	r.regexMu.RUnlock()
	if ok {
		return rgx
	}

	// Segments are quoted, so compilation cannot fail.
	rgx = regexp.MustCompile(Expression(pattern))

	r.regexMu.Lock()
	if existing, ok := r.regex[pattern]; ok {
		rgx = existing
	} else {
		r.regex[pattern] = rgx
	}
	r.regexMu.Unlock()
	return rgx
}

// Reset drops every memoized result and compiled expression.
func (r *Resolver) Reset() {
	r.results.Purge()
	r.indexMu.Lock()
	r.byPattern = make(map[string]map[string]struct{})
	r.indexMu.Unlock()
	r.regexMu.Lock()
	r.regex = make(map[string]*regexp.Regexp)
	r.regexMu.Unlock()
}

// PurgeOption narrows which memoized results Purge removes.
type PurgeOption func(*purgeFilter)

type purgeFilter struct {
	topic      string
	hasTopic   bool
	pattern    string
	hasPattern bool
}

// ForTopic limits Purge to results computed for topic.
func ForTopic(topic string) PurgeOption {
	return func(f *purgeFilter) {
		f.topic = topic
		f.hasTopic = true
	}
}

// ForPattern limits Purge to results computed for pattern.
func ForPattern(pattern string) PurgeOption {
	return func(f *purgeFilter) {
		f.pattern = pattern
		f.hasPattern = true
	}
}

// Purge removes memoized results matching every given option.
// Without options it behaves like Reset.
func (r *Resolver) Purge(opts ...PurgeOption) {
	if len(opts) == 0 {
		r.Reset()
		return
	}

	var f purgeFilter
	for _, o := range opts {
		if o != nil {
			o(&f)
		}
	}
	if !f.hasTopic && !f.hasPattern {
		r.Reset()
		return
	}

	if f.hasPattern {
		// Collect first: Remove runs forget, which takes indexMu.
		r.indexMu.Lock()
		keys := make([]resultKey, 0, len(r.byPattern[f.pattern]))
		for topic := range r.byPattern[f.pattern] {
			if f.hasTopic && topic != f.topic {
				continue
			}
			keys = append(keys, resultKey{topic: topic, pattern: f.pattern})
		}
		r.indexMu.Unlock()
		for _, k := range keys {
			if !r.results.Remove(k) {
				r.forget(k, false)
			}
		}
		return
	}

	for _, k := range r.results.Keys() {
		if k.topic == f.topic {
			r.results.Remove(k)
		}
	}
}

// Len returns the number of memoized results.
func (r *Resolver) Len() int {
	return r.results.Len()
}

// HasWildcards reports whether pattern contains "*" or "#".
func HasWildcards(pattern string) bool {
	return strings.ContainsAny(pattern, WildcardSingle+WildcardMulti)
}

// Expression translates a binding pattern into an anchored regular expression.
//
// "#" becomes [\s\S]* and may absorb the dots around it, "*" becomes [^.]+,
// literal segments are quoted. A segment following a non-"#" segment is
// joined with a literal dot; a segment following "#" only needs a word boundary.
func Expression(pattern string) string {
	var b strings.Builder
	b.WriteString("^")
	prev := ""
	for i, seg := range strings.Split(pattern, delimiter) {
		if i > 0 {
			if prev != WildcardMulti {
				b.WriteString(`\.\b`)
			} else {
				b.WriteString(`\b`)
			}
		}
		switch seg {
		case WildcardMulti:
			b.WriteString(`[\s\S]*`)
		case WildcardSingle:
			b.WriteString(`[^.]+`)
		default:
			b.WriteString(regexp.QuoteMeta(seg))
		}
		prev = seg
	}
	b.WriteString("$")
	return b.String()
}

// Compile returns the compiled expression for pattern.
func Compile(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile(Expression(pattern))
}

var (
	defaultResolver   *Resolver
	defaultResolverMu sync.Mutex
)

// Default returns the process-wide shared Resolver, creating it on first use.
func Default() *Resolver {
	defaultResolverMu.Lock()
	defer defaultResolverMu.Unlock()

	if defaultResolver != nil {
		return defaultResolver
	}
	r, err := New(Defaults())
	if err != nil {
		panic("resolver: failed to initialize default resolver: " + err.Error())
	}
	defaultResolver = r
	return defaultResolver
}

// SetDefault replaces the process-wide shared Resolver.
func SetDefault(r *Resolver) {
	if r == nil {
		panic("resolver: SetDefault called with nil Resolver")
	}
	defaultResolverMu.Lock()
	defaultResolver = r
	defaultResolverMu.Unlock()
}
