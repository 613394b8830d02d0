// Package discovery translates filesystem changes and container-runtime
// updates into a normalized event stream consumed by Reader lifecycle
// logic, matching each changed path against the configured patterns.
package discovery

import (
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/estuary/logtail/internal/alarm"
	"github.com/estuary/logtail/internal/protocol"
	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"
)

// EventKind discriminates the kinds of events Discovery emits.
type EventKind int

const (
	Created EventKind = iota
	Modified
	Deleted
	MovedFrom
	MovedTo
	ContainerStopped
)

// Event is one normalized Discovery event.
type Event struct {
	Kind       EventKind
	Path       string
	Identity   *protocol.FileIdentity
	ConfigName string
}

// Config is one watched configuration: a base path (optionally with
// wildcard segments), a recursion depth cap, and blacklist patterns.
type Config struct {
	Name               string
	BasePath           string
	WildcardPattern    *regexp.Regexp
	MaxDepth           int
	DirBlacklist       []*regexp.Regexp
	ForceMultiConfig   bool
	CreatedAt          time.Time
	MaxScanEntries     int // not read by Scan, which applies a fixed cap of 1000
}

// HostBlacklist is a set of compiled path patterns rejected regardless
// of config.
type HostBlacklist []*regexp.Regexp

func (b HostBlacklist) rejects(path string) bool {
	for _, re := range b {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

type cacheEntry struct {
	configs   []*Config
	expiresAt time.Time
}

// Matcher implements the path-to-config matching algorithm, with a
// time- and size-bounded cache.
type Matcher struct {
	mu        sync.Mutex
	configs   []*Config
	blacklist HostBlacklist
	cache     *lru.Cache[string, cacheEntry]
	cacheTTL  time.Duration
	alarms    *alarm.Limiter
}

// NewMatcher returns a Matcher over the given configs and host
// blacklist, with the default 6h cache TTL and alarm limiter.
func NewMatcher(configs []*Config, blacklist HostBlacklist, alarms *alarm.Limiter) *Matcher {
	var cache, _ = lru.New[string, cacheEntry](100000)
	return &Matcher{
		configs:   configs,
		blacklist: blacklist,
		cache:     cache,
		cacheTTL:  6 * time.Hour,
		alarms:    alarms,
	}
}

// Match returns the configs that match path, applying the tie-break
// rules: a single non-force-multi match wins outright; otherwise the
// longest base path wins, tied-broken by earliest config creation
// time; force-multi-config configs additionally match in parallel.
func (m *Matcher) Match(path string) []*Config {
	if m.blacklist.rejects(path) {
		return nil
	}

	m.mu.Lock()
	if entry, ok := m.cache.Get(path); ok && time.Now().Before(entry.expiresAt) {
		m.mu.Unlock()
		return entry.configs
	}
	m.mu.Unlock()

	var matched []*Config
	for _, c := range m.configs {
		if m.configMatches(c, path) {
			matched = append(matched, c)
		}
	}

	var result = m.resolve(matched, path)

	m.mu.Lock()
	m.cache.Add(path, cacheEntry{configs: result, expiresAt: time.Now().Add(m.cacheTTL)})
	m.mu.Unlock()

	return result
}

func (m *Matcher) configMatches(c *Config, path string) bool {
	for _, re := range c.DirBlacklist {
		if re.MatchString(filepath.Dir(path)) {
			return false
		}
	}
	if c.WildcardPattern != nil {
		if !c.WildcardPattern.MatchString(path) {
			return false
		}
	} else if !hasPrefixDir(path, c.BasePath) {
		return false
	}
	if c.MaxDepth > 0 {
		if rel, err := filepath.Rel(c.BasePath, path); err == nil {
			if countSeparators(rel) > c.MaxDepth {
				return false
			}
		}
	}
	return true
}

func countSeparators(path string) int {
	var n int
	for _, r := range path {
		if r == filepath.Separator {
			n++
		}
	}
	return n
}

func hasPrefixDir(path, base string) bool {
	if base == "" {
		return true
	}
	var rel, err = filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel != ".." && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator)
}

func (m *Matcher) resolve(matched []*Config, path string) []*Config {
	if len(matched) == 0 {
		return nil
	}

	var forced []*Config
	var normal []*Config
	for _, c := range matched {
		if c.ForceMultiConfig {
			forced = append(forced, c)
		} else {
			normal = append(normal, c)
		}
	}

	if len(normal) > 1 {
		sort.Slice(normal, func(i, j int) bool {
			if len(normal[i].BasePath) != len(normal[j].BasePath) {
				return len(normal[i].BasePath) > len(normal[j].BasePath)
			}
			return normal[i].CreatedAt.Before(normal[j].CreatedAt)
		})
		if m.alarms != nil {
			m.alarms.Raise(alarm.Key{Kind: "multi_config_match"}, log.Fields{"path": path}, "path matched by multiple non-forced configs")
		}
		normal = normal[:1]
	}

	return append(normal, forced...)
}

// InvalidatePath removes a cached match so the next lookup re-evaluates it.
func (m *Matcher) InvalidatePath(path string) {
	m.mu.Lock()
	m.cache.Remove(path)
	m.mu.Unlock()
}
