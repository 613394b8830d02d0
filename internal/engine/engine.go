// Package engine wires discovery, reading, framing, the processor
// pipeline, the queue manager, and the checkpoint stores into one
// running agent under a single supervising Run loop.
package engine

import (
	"context"
	"io"
	"math/rand"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/estuary/logtail/internal/alarm"
	"github.com/estuary/logtail/internal/checkpoint"
	"github.com/estuary/logtail/internal/config"
	"github.com/estuary/logtail/internal/containerwatch"
	"github.com/estuary/logtail/internal/discovery"
	"github.com/estuary/logtail/internal/exactlyonce"
	"github.com/estuary/logtail/internal/framer"
	"github.com/estuary/logtail/internal/processor"
	"github.com/estuary/logtail/internal/protocol"
	"github.com/estuary/logtail/internal/queue"
	"github.com/estuary/logtail/internal/reader"
	"github.com/estuary/logtail/internal/workerpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// PipelineBuilder constructs the processor chain and framer for a
// matched discovery Config. The engine doesn't know how to turn a
// FileConfig's Processors list into concrete Processor instances (that
// requires per-processor construction arguments: regex patterns,
// delimiter rules, timestamp formats); callers of New supply it.
type PipelineBuilder func(cfg config.FileConfig) (*processor.Pipeline, framer.Framer, error)

// Engine owns every long-running subsystem of one agent process.
type Engine struct {
	cfg     config.AgentConfig
	sink    Sink
	builder PipelineBuilder

	matcher     *discovery.Matcher
	discConfigs []*discovery.Config

	aggStore *checkpoint.AggregateStore
	eoStore  *checkpoint.ExactlyOnceStore

	queues  *queue.Manager
	alarms  *alarm.Limiter
	watch   *containerwatch.Watch
	readers *workerpool.Pool

	mu          sync.Mutex
	trackers    map[protocol.FileIdentity]*trackerHandle
	wakeChans   map[protocol.RoutingKey]chan struct{}
	pipelines   map[protocol.RoutingKey]*processor.Pipeline
	fileConfigs map[string]config.FileConfig
}

// trackerHandle pairs a running Tracker with the cancel func that
// stops it, so Engine can both shut it down and report its status.
type trackerHandle struct {
	tracker *Tracker
	cancel  context.CancelFunc
}

// New builds an Engine from cfg, ready for Run. sink receives every
// fully processed EventGroup; builder constructs the per-config
// processor pipeline and framer.
func New(cfg config.AgentConfig, sink Sink, builder PipelineBuilder) (*Engine, error) {
	var alarms = alarm.New(alarm.DefaultWindow)

	var aggStore = checkpoint.NewAggregateStore(cfg.Checkpoint.AggregatePath, cfg.Checkpoint.Capacity)
	if err := aggStore.Load(cfg.Checkpoint.LoadTTL); err != nil {
		log.WithError(err).Warn("failed to load aggregate checkpoint, starting empty")
	}
	var eoStore = checkpoint.NewExactlyOnceStore(cfg.Checkpoint.ExactlyOnceDir)

	var discConfigs []*discovery.Config
	var fileConfigs = make(map[string]config.FileConfig)
	for _, fc := range cfg.Files {
		fileConfigs[fc.Name] = fc
		discConfigs = append(discConfigs, &discovery.Config{
			Name:             fc.Name,
			BasePath:         fc.BasePath,
			MaxDepth:         fc.MaxDepth,
			ForceMultiConfig: fc.ForceMultiConfig,
			CreatedAt:        time.Now(),
		})
	}

	var blacklist = hostBlacklistFrom(cfg.Blacklist)
	var matcher = discovery.NewMatcher(discConfigs, blacklist, alarms)

	return &Engine{
		cfg:         cfg,
		sink:        sink,
		builder:     builder,
		matcher:     matcher,
		discConfigs: discConfigs,
		aggStore:    aggStore,
		eoStore:     eoStore,
		queues:      queue.NewManager(cfg.Queue.Capacity, cfg.Queue.HighWatermark, cfg.Queue.LowWatermark),
		alarms:      alarms,
		watch:       containerwatch.NewWatch(64),
		readers:     workerpool.New(cfg.ReaderPool, cfg.ReaderPool*2),
		trackers:    make(map[protocol.FileIdentity]*trackerHandle),
		wakeChans:   make(map[protocol.RoutingKey]chan struct{}),
		pipelines:   make(map[protocol.RoutingKey]*processor.Pipeline),
		fileConfigs: fileConfigs,
	}, nil
}

// Run starts every subsystem and blocks until ctx is canceled or a
// subsystem fails.
func (e *Engine) Run(ctx context.Context) error {
	var grp, grpCtx = errgroup.WithContext(ctx)

	var readerGrp = e.readers.Start(grpCtx)

	grp.Go(func() error { return e.runContainerWatch(grpCtx) })
	grp.Go(func() error { return e.discoveryLoop(grpCtx) })
	grp.Go(func() error { return e.checkpointDumpLoop(grpCtx) })
	grp.Go(func() error { return e.queueGCLoop(grpCtx) })
	grp.Go(func() error { return e.senderLoop(grpCtx) })
	for i := 0; i < e.cfg.ProcessPool; i++ {
		grp.Go(func() error { return e.processLoop(grpCtx) })
	}

	var err = grp.Wait()

	e.readers.Close()
	_ = readerGrp.Wait()

	return err
}

// runContainerWatch subscribes a consumer that logs each released
// container update and runs the watch until ctx is canceled. Released
// updates do not start or stop Trackers.
func (e *Engine) runContainerWatch(ctx context.Context) error {
	e.watch.Subscribe(func(update protocol.ContainerUpdate) {
		log.WithField("container_id", update.Params.ContainerID).WithField("config", update.ConfigName).Info("container update released")
	})
	go func() {
		<-ctx.Done()
		e.watch.Close()
	}()
	e.watch.Run()
	return nil
}

// discoveryLoop periodically re-scans every configured base path,
// starting a Tracker for any newly matched file.
func (e *Engine) discoveryLoop(ctx context.Context) error {
	var interval = e.cfg.ScanInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	var ticker = time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for _, dc := range e.discConfigs {
			discovery.Scan(dc.BasePath, dc.MaxDepth, e.matcher, e.alarms, e.onFileMatched)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// onFileMatched ensures a Tracker is running for path, submitting its
// startup onto the reader pool so the pool bounds how many files are
// concurrently tailed.
func (e *Engine) onFileMatched(path string, cfgs []*discovery.Config) {
	if len(cfgs) == 0 {
		return
	}
	var dc = cfgs[0]
	var fc, ok = e.fileConfigs[dc.Name]
	if !ok {
		return
	}

	var identity, err = reader.IdentityOf(path, dc.Name)
	if err != nil {
		e.alarms.Raise(alarm.Key{Kind: "identity_failed", Project: dc.Name}, log.Fields{"path": path, "err": err.Error()}, "failed to stat matched file")
		return
	}

	e.mu.Lock()
	if _, exists := e.trackers[identity]; exists {
		e.mu.Unlock()
		return
	}
	var trackerCtx, cancel = context.WithCancel(context.Background())
	var handle = &trackerHandle{cancel: cancel}
	e.trackers[identity] = handle
	e.mu.Unlock()

	var submitErr = e.readers.Submit(trackerCtx, func(ctx context.Context) error {
		defer func() {
			e.mu.Lock()
			delete(e.trackers, identity)
			e.mu.Unlock()
		}()
		t, err := e.startTracker(path, identity, fc)
		if err != nil {
			log.WithError(err).WithField("path", path).Warn("failed to start tracker")
			return nil
		}
		e.mu.Lock()
		handle.tracker = t
		e.mu.Unlock()
		return t.Pump(ctx)
	})
	if submitErr != nil {
		cancel()
	}
}

// startTracker opens the file and binds its pipeline, framer, and
// (if configured) exactly-once state.
func (e *Engine) startTracker(path string, identity protocol.FileIdentity, fc config.FileConfig) (*Tracker, error) {
	var r, err = reader.Open(path, identity, reader.FromEnd, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}

	if rec, found := e.aggStore.Get(protocol.CompositeKey(path, identity)); found {
		r.State.Offset = rec.Offset
	}

	var pipeline, framerImpl, buildErr = e.builder(fc)
	if buildErr != nil {
		r.Close()
		return nil, errors.Wrap(buildErr, "building pipeline")
	}

	var routingKey = protocol.RoutingKey(stableRoutingKey(fc.Name))
	var pair = e.queues.GetOrCreate(routingKey, fc.RoutingPriority)

	e.mu.Lock()
	e.pipelines[routingKey] = pipeline
	e.mu.Unlock()

	var t = &Tracker{
		Identity:    identity,
		Path:        path,
		ConfigName:  fc.Name,
		reader:      r,
		framer:      framerImpl,
		encoding:    encodingOf(fc.EncodingMode),
		routing:     routingKey,
		pair:        pair,
		aggStore:    e.aggStore,
		eoStore:     e.eoStore,
		alarms:      e.alarms,
		wake:        e.wakeChanFor(routingKey),
		concurrency: fc.Concurrency,
	}
	if t.concurrency < 1 {
		t.concurrency = 1
	}

	if fc.ExactlyOnce {
		var head, headErr = readFileHead(path, 4096)
		if headErr != nil {
			log.WithError(headErr).WithField("path", path).Warn("failed to read head for exactly-once binding, skipping")
		} else {
			var primaryKey = protocol.ExactlyOncePrimaryKey(path, identity)
			if opt, ok := exactlyonce.Bind(e.eoStore, primaryKey, routingKey, head, t.concurrency); ok {
				t.eo = opt
				r.State.Offset = opt.LastCommittedOffset()
			}
		}
	}

	pair.Process.SetFeedback(func() { e.notifyRoutingKey(routingKey) })
	return t, nil
}

func (e *Engine) wakeChanFor(key protocol.RoutingKey) chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ch, ok := e.wakeChans[key]; ok {
		return ch
	}
	var ch = make(chan struct{}, 1)
	e.wakeChans[key] = ch
	return ch
}

func (e *Engine) notifyRoutingKey(key protocol.RoutingKey) {
	e.mu.Lock()
	var ch = e.wakeChans[key]
	e.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// processLoop pops raw groups off each Pair's Process queue, runs the
// bound pipeline, and pushes the parsed result onto the Sender queue.
func (e *Engine) processLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var did bool
		e.queues.Visit(func(p *queue.Pair) {
			if did {
				return
			}
			var raw, ok = p.Process.Pop()
			if !ok {
				return
			}
			did = true
			var item = raw.(queueItem)

			e.mu.Lock()
			var pipeline = e.pipelines[p.Key]
			e.mu.Unlock()

			var out = item.group
			if pipeline != nil {
				var err error
				out, err = pipeline.Run(item.group)
				if err != nil {
					log.WithError(err).Warn("pipeline run failed")
				}
			}
			p.Sender.TryPush(queueItem{group: out, ack: item.ack})
		})

		if !did {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(idlePollInterval):
			}
		}
	}
}

// senderLoop pops processed groups off each Pair's Sender queue, writes
// them to the Sink, and invokes the ack closure on success.
func (e *Engine) senderLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var did bool
		e.queues.Visit(func(p *queue.Pair) {
			if did {
				return
			}
			var raw, ok = p.Sender.Pop()
			if !ok {
				return
			}
			did = true
			var item = raw.(queueItem)
			if err := e.sink.Write(item.group); err != nil {
				log.WithError(err).Warn("sink write failed")
				return
			}
			if item.ack != nil {
				item.ack()
			}
		})

		if !did {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(idlePollInterval):
			}
		}
	}
}

func (e *Engine) checkpointDumpLoop(ctx context.Context) error {
	var interval = e.cfg.Checkpoint.DumpInterval
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	for {
		// Each wait is jittered by up to ±1m when the interval exceeds 1m.
		var wait = interval
		if interval > time.Minute {
			wait += time.Duration(rand.Int63n(int64(2*time.Minute))) - time.Minute
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
			if _, err := e.aggStore.Dump(); err != nil {
				log.WithError(err).Warn("checkpoint dump failed")
			}
		}
	}
}

func (e *Engine) queueGCLoop(ctx context.Context) error {
	var interval = e.cfg.Queue.GCTick
	if interval <= 0 {
		interval = queue.DefaultGCTick
	}
	var ticker = time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.queues.RunGCOnce()
		}
	}
}

func encodingOf(mode string) reader.SourceEncoding {
	if mode == "gbk" {
		return reader.EncodingGBK
	}
	return reader.EncodingUTF8
}

// stableRoutingKey derives a deterministic RoutingKey from a config
// name, standing in for the (project, logstore) pair the full
// destination model names but this core doesn't own.
func stableRoutingKey(name string) uint64 {
	var h uint64 = 1469598103934665603
	for i := 0; i < len(name); i++ {
		h ^= uint64(name[i])
		h *= 1099511628211
	}
	return h
}

// hostBlacklistFrom compiles each configured literal path/prefix/suffix
// into an anchored regexp, the shape discovery.HostBlacklist expects.
func hostBlacklistFrom(cfg config.HostBlacklistConfig) discovery.HostBlacklist {
	var blacklist discovery.HostBlacklist
	for _, p := range cfg.Paths {
		if re, err := regexp.Compile("^" + regexp.QuoteMeta(p) + "$"); err == nil {
			blacklist = append(blacklist, re)
		}
	}
	for _, p := range cfg.PathPrefixes {
		if re, err := regexp.Compile("^" + regexp.QuoteMeta(p)); err == nil {
			blacklist = append(blacklist, re)
		}
	}
	for _, p := range cfg.Suffixes {
		if re, err := regexp.Compile(regexp.QuoteMeta(p) + "$"); err == nil {
			blacklist = append(blacklist, re)
		}
	}
	return blacklist
}

// FileStatus implements statusapi.Source: a snapshot of every live
// Tracker's read progress, optionally filtered to one path.
func (e *Engine) FileStatus(path string) []protocol.FileStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	var rows []protocol.FileStatus
	for _, handle := range e.trackers {
		var t = handle.tracker
		if t == nil {
			continue
		}
		if path != "" && path != "all" && path != t.Path {
			continue
		}
		rows = append(rows, protocol.FileStatus{
			ConfigName:  t.ConfigName,
			FilePath:    t.Path,
			SendOffset:  t.reader.State.Offset,
			FileLastPos: t.reader.State.LastSize,
			FileReadPos: t.reader.State.Offset,
			FileSize:    t.reader.State.LastSize,
			IsFinished:  t.reader.State.Offset >= t.reader.State.LastSize,
		})
	}
	return rows
}

func readFileHead(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf = make([]byte, n)
	read, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:read], nil
}
