package processor

import (
	"regexp"
	"strconv"

	"github.com/estuary/logtail/internal/protocol"
	"github.com/pkg/errors"
)

// TopicRule selects how a record's topic tag is derived.
type TopicRule int

const (
	// TopicLiteral assigns a fixed topic string.
	TopicLiteral TopicRule = iota
	// TopicGlobal derives the topic from a single engine-wide setting.
	TopicGlobal
	// TopicGroup derives the topic from the owning config's group name.
	TopicGroup
	// TopicPathCapture derives the topic from a regex capture over the
	// resolved path.
	TopicPathCapture
)

// TagInjector adds host-level, path, and topic tags to every Event in
// a group: hostname, IP, original path, resolved path, inode, and a
// topic computed per TopicRule.
type TagInjector struct {
	name string

	hostname string
	hostIP   string

	topicRule    TopicRule
	topicLiteral string
	topicPattern *regexp.Regexp

	metrics *InstanceMetrics
}

// NewTagInjector returns a TagInjector stamping the given host
// identity on every Event it processes.
func NewTagInjector(name, hostname, hostIP string) *TagInjector {
	return &TagInjector{
		name:     name,
		hostname: hostname,
		hostIP:   hostIP,
		metrics:  NewInstanceMetrics(name),
	}
}

// WithLiteralTopic configures a fixed topic string.
func (t *TagInjector) WithLiteralTopic(topic string) *TagInjector {
	t.topicRule = TopicLiteral
	t.topicLiteral = topic
	return t
}

// WithGlobalTopic configures the engine-wide topic setting as the
// source of the topic tag.
func (t *TagInjector) WithGlobalTopic(globalTopic string) *TagInjector {
	t.topicRule = TopicGlobal
	t.topicLiteral = globalTopic
	return t
}

// WithGroupTopic configures the owning config's group name as the
// source of the topic tag.
func (t *TagInjector) WithGroupTopic(group string) *TagInjector {
	t.topicRule = TopicGroup
	t.topicLiteral = group
	return t
}

// WithPathCaptureTopic configures a single-capture regex applied to
// the resolved path as the source of the topic tag.
func (t *TagInjector) WithPathCaptureTopic(pattern string) (*TagInjector, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errors.Wrap(err, "compiling tag injector topic capture pattern")
	}
	if re.NumSubexp() != 1 {
		return nil, errors.New("tag injector topic capture pattern must have exactly one capture group")
	}
	t.topicRule = TopicPathCapture
	t.topicPattern = re
	return t, nil
}

func (t *TagInjector) Name() string          { return t.name }
func (t *TagInjector) InputKind() EventKind  { return KindParsed }
func (t *TagInjector) Metrics() *InstanceMetrics { return t.metrics }

// PathContext carries the path tags for one Record's source file,
// supplied by the caller since the injector itself is stateless across
// files.
type PathContext struct {
	OriginalPath string
	ResolvedPath string
	Inode        uint64
}

// Inject stamps tags for the given path context onto every Event of
// group. Unlike the other processors, path context is per-file, so it
// is passed here rather than through the uniform Process method. The
// engine's Pipeline reaches the injector only through Process.
func (t *TagInjector) Inject(group protocol.EventGroup, ctx PathContext) protocol.EventGroup {
	var topic = t.resolveTopic(ctx)
	for i := range group.Events {
		var e = &group.Events[i]
		if e.Tags == nil {
			e.Tags = make(map[string]string, 6)
		}
		e.Tags["hostname"] = t.hostname
		e.Tags["host_ip"] = t.hostIP
		e.Tags["path"] = ctx.OriginalPath
		e.Tags["resolved_path"] = ctx.ResolvedPath
		e.Tags["inode"] = inodeString(ctx.Inode)
		if topic != "" {
			e.Tags["topic"] = topic
		}
	}
	return group
}

func (t *TagInjector) resolveTopic(ctx PathContext) string {
	switch t.topicRule {
	case TopicLiteral, TopicGlobal, TopicGroup:
		return t.topicLiteral
	case TopicPathCapture:
		if t.topicPattern == nil {
			return ""
		}
		var m = t.topicPattern.FindStringSubmatch(ctx.ResolvedPath)
		if len(m) != 2 {
			return ""
		}
		return m[1]
	}
	return ""
}

// Process satisfies the Processor contract for pipelines that don't
// need per-file path context: it stamps hostname, IP and topic tags,
// and leaves the path, resolved_path and inode tags empty.
func (t *TagInjector) Process(group protocol.EventGroup) (protocol.EventGroup, error) {
	return t.Inject(group, PathContext{}), nil
}

func inodeString(inode uint64) string {
	if inode == 0 {
		return ""
	}
	return strconv.FormatUint(inode, 10)
}
