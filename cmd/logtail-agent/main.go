// Command logtail-agent runs the host-resident log collection engine:
// discovery, tailing, framing, parsing, and checkpointed delivery to a
// configured Sink, until signaled to exit (via SIGTERM or SIGINT).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"

	"github.com/estuary/logtail/internal/config"
	"github.com/estuary/logtail/internal/engine"
	"github.com/estuary/logtail/internal/framer"
	"github.com/estuary/logtail/internal/logging"
	"github.com/estuary/logtail/internal/metrics"
	"github.com/estuary/logtail/internal/processor"
	"github.com/estuary/logtail/internal/statusapi"
	"github.com/fatih/color"
	"github.com/gorilla/mux"
	flags "github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
)

var greenBold = color.New(color.FgGreen, color.Bold).SprintFunc()

// appConfig is the top-level CLI configuration: the agent's own
// engine settings alongside the shared logging knobs.
type appConfig struct {
	config.AgentConfig
	Logging    logging.Config `group:"logging"`
	ListenAddr string         `long:"listen-addr" env:"LISTEN_ADDR" default:":9187" description:"address serving /metrics and /status/file/*"`
}

func main() {
	var cfg appConfig
	var parser = flags.NewParser(&cfg, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		log.WithError(err).Fatal("failed to parse configuration")
	}

	logging.Init(cfg.Logging)

	var router = mux.NewRouter()
	metrics.Mount(router)

	var eng, err = engine.New(cfg.AgentConfig, engine.DiscardSink{}, buildPipeline)
	if err != nil {
		log.WithError(err).Fatal("failed to construct engine")
	}
	statusapi.Register(router, eng)

	log.Infof("%s starting, %s file configs loaded", greenBold("logtail-agent"), greenBold(len(cfg.Files)))

	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	var sig = make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sig
		log.Info("received shutdown signal, draining")
		cancel()
	}()

	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("serving metrics and status API")
		if err := http.ListenAndServe(cfg.ListenAddr, router); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Warn("status/metrics server exited")
		}
	}()

	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		log.WithError(err).Fatal("engine exited with error")
	}
}

// buildPipeline turns one FileConfig's processor list and per-kind
// settings into a concrete Pipeline and Framer. Each entry in
// Processors names one of the five core processor kinds; order in the
// list is the order the pipeline runs them.
func buildPipeline(fc config.FileConfig) (*processor.Pipeline, framer.Framer, error) {
	var f, ferr = buildFramer(fc)
	if ferr != nil {
		return nil, nil, ferr
	}

	var stages []processor.Processor
	for _, kind := range fc.Processors {
		stage, err := buildStage(fc, strings.ToLower(strings.TrimSpace(kind)))
		if err != nil {
			return nil, nil, err
		}
		stages = append(stages, stage)
	}

	return processor.NewPipeline(true, "_raw", stages...), f, nil
}

func buildFramer(fc config.FileConfig) (framer.Framer, error) {
	switch fc.FramingMode {
	case "container":
		return framer.NewContainerFramer(), nil
	case "multiline":
		var start, cerr1 = compileOptional(fc.MultilineStartPattern)
		if cerr1 != nil {
			return nil, cerr1
		}
		cont, cerr2 := compileOptional(fc.MultilineContinuePattern)
		if cerr2 != nil {
			return nil, cerr2
		}
		end, cerr3 := compileOptional(fc.MultilineEndPattern)
		if cerr3 != nil {
			return nil, cerr3
		}
		return framer.NewMultilineFramer(framer.MultilineConfig{
			Start:            start,
			Continue:         cont,
			End:              end,
			DiscardUnmatched: fc.MultilineDiscardUnmatched,
		}), nil
	default:
		return framer.NewLineFramer(), nil
	}
}

func buildStage(fc config.FileConfig, kind string) (processor.Processor, error) {
	switch kind {
	case "regex":
		return processor.NewRegexParser(fc.Name+"-regex", fc.RegexPattern, fc.RegexKeys, -1)
	case "delimiter":
		var sep byte = ','
		if len(fc.DelimiterSeparator) > 0 {
			sep = fc.DelimiterSeparator[0]
		}
		var quote byte = '"'
		if len(fc.DelimiterQuote) > 0 {
			quote = fc.DelimiterQuote[0]
		}
		return processor.NewDelimiterParser(fc.Name+"-delimiter", sep, quote, fc.DelimiterKeys, delimiterOverflowOf(fc.DelimiterOverflow)), nil
	case "json":
		return processor.NewJSONParser(fc.Name + "-json"), nil
	case "timestamp":
		return processor.NewTimestampParser(fc.Name+"-timestamp", fc.TimestampFieldKey, fc.TimestampFormat, nil), nil
	case "tag":
		var hostname, _ = os.Hostname()
		var injector = processor.NewTagInjector(fc.Name+"-tag", hostname, "")
		if fc.TopicLiteral != "" {
			injector.WithLiteralTopic(fc.TopicLiteral)
		}
		return injector, nil
	default:
		return nil, unknownProcessorKind(kind)
	}
}

func delimiterOverflowOf(policy string) processor.OverflowPolicy {
	switch policy {
	case "catch-all":
		return processor.OverflowCatchAll
	case "discard":
		return processor.OverflowDiscard
	default:
		return processor.OverflowExtend
	}
}

func compileOptional(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	return regexp.Compile(pattern)
}

type unknownProcessorKind string

func (k unknownProcessorKind) Error() string {
	return "unknown processor kind: " + string(k)
}
