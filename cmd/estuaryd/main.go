// Command estuaryd wires the fanout core's collaborators into a small
// CLI, the way the teacher's word-count wordcountctl wires a consumer
// client into publish/query subcommands. It demonstrates the orchestration
// surface end to end against an in-process stream-core; it is not an
// HTTP or RPC server. Each subcommand builds its own fresh in-memory
// fakes, so no state carries over from one invocation to the next.
package main

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"github.com/commoncurriculum/estuary-fanout/estuary"
	"github.com/commoncurriculum/estuary-fanout/fanoutqueue"
	"github.com/commoncurriculum/estuary-fanout/internal/config"
	"github.com/commoncurriculum/estuary-fanout/orchestrate"
	"github.com/commoncurriculum/estuary-fanout/registry"
	"github.com/commoncurriculum/estuary-fanout/streamcore"
)

// Config is the top-level CLI configuration, populated from flags and
// environment, matching the group/namespace convention the teacher's
// mbp.AddressConfig/LogConfig use.
var Config = new(struct {
	Project  string `long:"project" description:"Project id to operate within" default:"demo"`
	LogLevel string `long:"log-level" env:"LOG_LEVEL" description:"logrus level" default:"info"`
})

// demo bundles the wired-up collaborators shared by every subcommand.
type demo struct {
	client       *streamcore.Fake
	registry     *registry.Registry
	estuaryMgr   *estuary.Manager
	orchestrator *orchestrate.Orchestrator
}

func newDemo() *demo {
	var cfg = config.FromEnv()
	var client = streamcore.NewFake()
	var queue = fanoutqueue.NewMemQueue()

	var reg = registry.New(registry.Options{
		Store:                registry.NewMemStore(),
		Client:               client,
		Queue:                queue,
		FanoutQueueThreshold: cfg.FanoutQueueThreshold,
		FanoutQueueBatchSize: cfg.FanoutQueueBatchSize,
		FanoutBatchSize:      cfg.FanoutBatchSize,
		FanoutRPCTimeout:     cfg.FanoutRPCTimeout,
		CBFailureThreshold:   cfg.CircuitBreakerFailureThreshold,
		CBRecoveryPeriod:     cfg.CircuitBreakerRecovery,
	})

	var mgr = estuary.NewManager(estuary.NewMemStore(), client, reg, estuary.NewTimerScheduler())
	var orch = orchestrate.New(client, reg, mgr, time.Duration(cfg.EstuaryTTLSeconds)*time.Second)

	return &demo{client: client, registry: reg, estuaryMgr: mgr, orchestrator: orch}
}

type cmdSeedSource struct {
	Stream      string `long:"stream" required:"true" description:"Source streamId to create"`
	ContentType string `long:"content-type" default:"application/json" description:"Source content-type"`
}

func (c *cmdSeedSource) Execute([]string) error {
	var d = newDemo()
	d.client.Seed(streamcore.Key{ProjectID: Config.Project, ID: c.Stream}, c.ContentType)
	log.WithField("stream", c.Stream).Info("estuaryd: seeded source")
	return nil
}

type cmdSubscribe struct {
	Stream  string `long:"stream" required:"true" description:"Source streamId to subscribe to"`
	Estuary string `long:"estuary" description:"Estuary id (UUID). Generated if omitted"`
}

func (c *cmdSubscribe) Execute([]string) error {
	var d = newDemo()
	d.client.Seed(streamcore.Key{ProjectID: Config.Project, ID: c.Stream}, "application/json")

	var estuaryID = c.Estuary
	if estuaryID == "" {
		estuaryID = uuid.NewString()
	}

	var ctx = context.Background()
	var res, err = d.orchestrator.Subscribe(ctx, Config.Project, c.Stream, estuaryID)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"estuary":   res.EstuaryID,
		"stream":    res.StreamID,
		"isNew":     res.IsNewEstuary,
		"expiresAt": res.ExpiresAt,
	}).Info("estuaryd: subscribed")
	return nil
}

type cmdPublish struct {
	Stream string `long:"stream" required:"true" description:"Source streamId to publish to"`
	Text   string `long:"text" required:"true" description:"Payload text to publish"`
}

func (c *cmdPublish) Execute([]string) error {
	var d = newDemo()
	var ctx = context.Background()

	var res, err = d.registry.Publish(ctx, Config.Project, c.Stream, []byte(c.Text), "text/plain", streamcore.ProducerHeaders{})
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"mode":       res.FanoutMode,
		"count":      res.FanoutCount,
		"successes":  res.FanoutSuccesses,
		"failures":   res.FanoutFailures,
		"nextOffset": res.NextOffset,
	}).Info("estuaryd: published")
	return nil
}

func main() {
	var parser = flags.NewParser(Config, flags.Default)
	parser.CommandHandler = func(cmd flags.Commander, args []string) error {
		if lvl, err := log.ParseLevel(Config.LogLevel); err == nil {
			log.SetLevel(lvl)
		}
		return cmd.Execute(args)
	}

	var must = func(err error, context string) {
		if err != nil {
			log.WithError(err).Fatal(context)
		}
	}

	_, err := parser.AddCommand("seed-source", "Seed a demo source stream",
		"Create a source stream in the in-process fake stream-core", &cmdSeedSource{})
	must(err, "failed to add seed-source command")

	_, err = parser.AddCommand("subscribe", "Subscribe an estuary to a source",
		"Run the Subscribe orchestration against the in-process fake stream-core", &cmdSubscribe{})
	must(err, "failed to add subscribe command")

	_, err = parser.AddCommand("publish", "Publish to a source and fan out",
		"Run the Publish Engine against the in-process fake stream-core", &cmdPublish{})
	must(err, "failed to add publish command")

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

func init() {
	if lvl, err := log.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		log.SetLevel(lvl)
	}
}
