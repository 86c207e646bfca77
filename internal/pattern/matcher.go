// Package pattern implements the deterministic L1 matching layer: lazy
// compilation of rule patterns with a shared append-only cache, and bounded
// execution against untrusted input.
//
// Go's regexp package is an RE2 engine with a linear-time guarantee, so a
// hostile pattern or input cannot trigger catastrophic backtracking. The
// per-pattern budget is still enforced: input size is capped proportionally
// to the budget before matching, and elapsed time is checked after, so a
// pattern that blows its budget is reported and skipped rather than trusted.
package pattern

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/wardenlabs/llm-warden/internal/rules"
)

var (
	// ErrInvalidPattern indicates a pattern that failed to compile.
	ErrInvalidPattern = errors.New("invalid pattern")
	// ErrPatternExecution indicates a pattern that exceeded its execution
	// budget or otherwise failed at match time.
	ErrPatternExecution = errors.New("pattern execution failed")
)

const (
	// contextChars is how much surrounding text a Match carries on each side.
	contextChars = 50
	// maxMatchesPerPattern bounds FindAll allocations on pathological input.
	maxMatchesPerPattern = 32
	// bytesPerMillisecond is the conservative throughput floor used to cap
	// input length against a pattern's budget.
	bytesPerMillisecond = 8 * 1024
	// defaultBudget applies when a pattern does not carry its own.
	defaultBudget = 100 * time.Millisecond
)

// Warning is the side-channel report for a pattern that was skipped. The scan
// continues; operators need these counted and visible.
type Warning struct {
	PatternIndex int    `json:"pattern_index"`
	Regex        string `json:"regex"`
	Err          error  `json:"-"`
	Reason       string `json:"reason"`
}

// Matcher compiles and executes rule patterns. The compile cache is shared
// and append-only: entries are written once per key and never replaced, so
// concurrent scans can read it without further locking. Duplicate concurrent
// compiles of the same key are tolerated (last writer wins, both values are
// equivalent).
type Matcher struct {
	cache  sync.Map // cacheKey -> *regexp.Regexp
	logger *zap.Logger
}

// NewMatcher creates a matcher with an empty pattern cache.
func NewMatcher(logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{logger: logger}
}

// cacheKey builds the cache key from the pattern source and its sorted flags.
func cacheKey(p rules.Pattern) string {
	if len(p.Flags) == 0 {
		return p.Regex
	}
	flags := make([]string, len(p.Flags))
	for i, f := range p.Flags {
		flags[i] = string(f)
	}
	sort.Strings(flags)
	return p.Regex + "\x00" + strings.Join(flags, ",")
}

// flagPrefix translates named flags into RE2 inline flags.
func flagPrefix(p rules.Pattern) string {
	var b strings.Builder
	for _, f := range p.Flags {
		switch f {
		case rules.FlagIgnoreCase:
			b.WriteString("i")
		case rules.FlagMultiline:
			b.WriteString("m")
		case rules.FlagDotAll:
			b.WriteString("s")
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "(?" + b.String() + ")"
}

// Compile returns the compiled form of p, reusing the shared cache. A failed
// compile is reported as ErrInvalidPattern and is not cached, so a later
// corrected pack version recompiles cleanly.
func (m *Matcher) Compile(p rules.Pattern) (*regexp.Regexp, error) {
	key := cacheKey(p)
	if cached, ok := m.cache.Load(key); ok {
		return cached.(*regexp.Regexp), nil
	}

	re, err := regexp.Compile(flagPrefix(p) + p.Regex)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, p.Regex, err)
	}

	// Store unconditionally: concurrent compiles of the same key produce
	// equivalent values, and a fully constructed regexp is always visible.
	m.cache.Store(key, re)
	return re, nil
}

// CacheSize returns the number of compiled patterns currently cached.
func (m *Matcher) CacheSize() int {
	n := 0
	m.cache.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// MatchOne executes a single pattern against text and returns all matches
// with surrounding context. index is the pattern's position within its rule
// and is carried into each Match.
func (m *Matcher) MatchOne(text string, p rules.Pattern, index int) ([]rules.Match, error) {
	re, err := m.Compile(p)
	if err != nil {
		return nil, err
	}

	budget := p.Timeout
	if budget <= 0 {
		budget = defaultBudget
	}

	// Cap input proportionally to the budget. RE2 is linear in input length,
	// so bounding the input bounds the work.
	maxBytes := int(budget.Milliseconds()) * bytesPerMillisecond
	scanned := text
	if maxBytes > 0 && len(scanned) > maxBytes {
		scanned = truncateRuneSafe(scanned, maxBytes)
	}

	start := time.Now()
	raw := re.FindAllStringSubmatchIndex(scanned, maxMatchesPerPattern)
	if elapsed := time.Since(start); elapsed > budget {
		return nil, fmt.Errorf("%w: %q exceeded budget (%s > %s)", ErrPatternExecution, p.Regex, elapsed, budget)
	}

	if len(raw) == 0 {
		return nil, nil
	}

	matches := make([]rules.Match, 0, len(raw))
	for _, loc := range raw {
		s, e := loc[0], loc[1]
		match := rules.Match{
			PatternIndex:  index,
			Start:         s,
			End:           e,
			Text:          scanned[s:e],
			ContextBefore: contextBefore(scanned, s),
			ContextAfter:  contextAfter(scanned, e),
		}
		// Capture groups beyond the full match.
		for g := 1; g*2 < len(loc); g++ {
			gs, ge := loc[g*2], loc[g*2+1]
			if gs < 0 {
				match.Groups = append(match.Groups, "")
				continue
			}
			match.Groups = append(match.Groups, scanned[gs:ge])
		}
		matches = append(matches, match)
	}
	return matches, nil
}

// MatchAll executes every pattern (OR semantics) and aggregates matches. A
// pattern that fails to compile or execute is skipped and reported as a
// Warning; the remaining patterns still run. MatchAll never fails for
// well-formed text.
func (m *Matcher) MatchAll(text string, patterns []rules.Pattern) ([]rules.Match, []Warning) {
	var matches []rules.Match
	var warnings []Warning

	for i, p := range patterns {
		found, err := m.MatchOne(text, p, i)
		if err != nil {
			warnings = append(warnings, Warning{
				PatternIndex: i,
				Regex:        p.Regex,
				Err:          err,
				Reason:       err.Error(),
			})
			m.logger.Warn("pattern skipped",
				zap.Int("pattern_index", i),
				zap.String("regex", p.Regex),
				zap.Error(err))
			continue
		}
		matches = append(matches, found...)
	}
	return matches, warnings
}

// truncateRuneSafe cuts s to at most n bytes without splitting a rune.
func truncateRuneSafe(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func contextBefore(s string, pos int) string {
	start := pos - contextChars
	if start < 0 {
		start = 0
	}
	for start < pos && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:pos]
}

func contextAfter(s string, pos int) string {
	end := pos + contextChars
	if end > len(s) {
		end = len(s)
	}
	for end > pos && end < len(s) && !utf8.RuneStart(s[end]) {
		end--
	}
	return s[pos:end]
}
