// Command noded runs the event-driven node runtime: it loads a set of
// node contracts, builds their executors, and either drives them against
// a live broker, lints a directory of contract documents, or replays a
// recorded envelope sequence through mock handlers.
//
// Modeled on cellorg/cmd/orchestrator's config-source resolution
// (command-line path, then a default file, then hardcoded defaults) and
// its signal-driven graceful shutdown, generalized from a single "start
// everything" command into noded's three-command CLI surface.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/onex/noderuntime/internal/broker"
	"github.com/onex/noderuntime/internal/config"
	"github.com/onex/noderuntime/internal/contract"
	"github.com/onex/noderuntime/internal/envelope"
	"github.com/onex/noderuntime/internal/executor"
	"github.com/onex/noderuntime/internal/handler"
	"github.com/onex/noderuntime/internal/publisher"
	"github.com/onex/noderuntime/internal/registry"
	"github.com/onex/noderuntime/internal/router"
	"github.com/onex/noderuntime/internal/substitute"
)

// renderConnectionTree resolves every "${env.NAME}" reference in a
// contract's connection tree against the process environment, the only
// scope meaningful before a handler exists to supply input/context. A
// reference without a scope prefix, or to any other scope, is unresolved.
func renderConnectionTree(tree map[string]interface{}, env map[string]string) (map[string]interface{}, error) {
	rendered, err := substitute.RenderTree(tree, substitute.Bindings{Env: env})
	if err != nil {
		return nil, err
	}
	out, ok := rendered.(map[string]interface{})
	if !ok {
		return tree, nil
	}
	return out, nil
}

const (
	exitOK           = 0
	exitFailure      = 1
	exitIOFailure    = 2
	exitInterrupted  = 130
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: noded <run|validate-contracts|simulate-workflow> [flags]")
		os.Exit(exitFailure)
	}

	var code int
	switch os.Args[1] {
	case "run":
		code = runCommand(os.Args[2:])
	case "validate-contracts":
		code = validateContractsCommand(os.Args[2:])
	case "simulate-workflow":
		code = simulateWorkflowCommand(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		code = exitFailure
	}
	os.Exit(code)
}

// loadContracts reads and validates every contract document cfg names,
// returning an error that names the failing file on the first failure (a
// fingerprint mismatch also names the node_id).
func loadContracts(cfg *config.Config) ([]*contract.Contract, error) {
	files, err := cfg.ContractFiles()
	if err != nil {
		return nil, err
	}
	contracts := make([]*contract.Contract, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("read contract %s: %w", f, err)
		}
		c, err := contract.Load(data)
		if err != nil {
			return nil, fmt.Errorf("load contract %s: %w", f, err)
		}
		contracts = append(contracts, c)
	}
	return contracts, nil
}

func filterByProfile(contracts []*contract.Contract, profile config.Profile) []*contract.Contract {
	out := make([]*contract.Contract, 0, len(contracts))
	for _, c := range contracts {
		if config.ProfileIncludes(profile, c.Kind) {
			out = append(out, c)
		}
	}
	return out
}

// resolveConnection renders a contract's Connection through the
// Variable Substitutor's "env." scope; the result becomes the executor's
// "config." scope. registry.Build passes handler Init the contract's
// Connection as loaded, so Init sees the references unsubstituted.
func resolveConnection(env map[string]string) func(*contract.Contract) map[string]interface{} {
	return func(c *contract.Contract) map[string]interface{} {
		rendered, err := renderConnectionTree(c.Connection.ToMap(), env)
		if err != nil {
			log.Printf("noded: connection substitution failed for %s: %v", c.NodeID, err)
			return c.Connection.ToMap()
		}
		return rendered
	}
}

func realBindings() registry.Bindings {
	return registry.Bindings{
		Factories: map[contract.ProtocolKind]registry.HandlerFactory{
			contract.ProtocolREST:          func() handler.Handler { return handler.NewRESTHandler() },
			contract.ProtocolGraphCypher:   func() handler.Handler { return handler.NewGraphHandler() },
			contract.ProtocolSQL:           func() handler.Handler { return handler.NewSQLHandler() },
			contract.ProtocolBrokerProduce: func() handler.Handler { return handler.NewProduceHandler() },
		},
		OnMissing: map[contract.ProtocolKind]registry.OnMissing{
			contract.ProtocolREST:          registry.ErrorOut,
			contract.ProtocolGraphCypher:   registry.ErrorOut,
			contract.ProtocolSQL:           registry.ErrorOut,
			contract.ProtocolBrokerProduce: registry.ErrorOut,
		},
	}
}

func mockBindings() registry.Bindings {
	mockFactory := func() handler.Handler { return &handler.MockHandler{} }
	return registry.Bindings{
		Factories: map[contract.ProtocolKind]registry.HandlerFactory{
			contract.ProtocolREST:          mockFactory,
			contract.ProtocolGraphCypher:   mockFactory,
			contract.ProtocolSQL:           mockFactory,
			contract.ProtocolBrokerProduce: mockFactory,
		},
	}
}

func runCommand(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "noded.yaml", "path to the process configuration file")
	profileFlag := fs.String("profile", "", "override the configured runtime profile")
	dryRun := fs.Bool("dry-run", false, "load and validate without connecting to the broker")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("noded: %v", err)
		return exitFailure
	}
	if *profileFlag != "" {
		cfg.Profile = config.Profile(*profileFlag)
	}

	contracts, err := loadContracts(cfg)
	if err != nil {
		log.Printf("noded: %v", err)
		return exitFailure
	}
	contracts = filterByProfile(contracts, cfg.Profile)

	env := config.EnvMap()

	// Dry-run validates handler bindings, the dependency graph, and topic
	// names without connecting to any external system, so it builds the
	// registry against mock handlers regardless of profile:
	// registry.Build calls Init on whatever handler it constructs, and the
	// real rest/sql/graph/produce handlers dial out from Init.
	bindings := realBindings()
	if *dryRun || cfg.Profile == config.ProfileLocalDev {
		bindings = mockBindings()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg, err := registry.Build(ctx, contracts, bindings, env, resolveConnection(env))
	if err != nil {
		log.Printf("noded: registry build failed: %v", err)
		return exitFailure
	}
	log.Printf("noded: registry built with %d node(s) under profile %q", len(reg.Iter()), cfg.Profile)

	if *dryRun {
		log.Printf("noded: dry-run OK, not connecting to broker")
		return exitOK
	}

	return runHostLoop(ctx, cancel, cfg, reg)
}

func runHostLoop(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, reg *registry.Registry) int {
	topics := make([]string, 0, len(reg.Iter()))
	for _, ex := range reg.Iter() {
		topics = append(topics, ex.Contract().SubscribeTopic)
	}

	var consumer broker.Consumer
	var producer broker.Producer
	if cfg.Profile == config.ProfileLocalDev || len(cfg.Broker.Bootstrap) == 0 {
		embedded := broker.NewEmbedded()
		consumer = embedded.NewConsumer(topics...)
		producer = embedded.NewProducer()
	} else {
		kc, err := broker.NewKafkaConsumer(cfg.Broker.Bootstrap, topics, cfg.Broker.ConsumerGroupPrefix)
		if err != nil {
			log.Printf("noded: broker consumer: %v", err)
			return exitFailure
		}
		kp, err := broker.NewKafkaProducer(cfg.Broker.Bootstrap)
		if err != nil {
			log.Printf("noded: broker producer: %v", err)
			return exitFailure
		}
		consumer, producer = kc, kp
	}

	source := envelope.Source{Service: cfg.AppName, InstanceID: uuid.New().String()}
	if h, err := os.Hostname(); err == nil {
		source.Hostname = h
	}
	pub := publisher.New(producer, source)

	r := router.New(consumer, reg, pub, cfg.Broker.DLQTopic, cfg.MaxInFlight)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	runDone := make(chan error, 1)
	go func() { runDone <- r.Run(ctx) }()

	interrupted := false
	select {
	case sig := <-sigCh:
		log.Printf("noded: received %s, shutting down", sig)
		interrupted = true
	case <-ctx.Done():
	}

	r.Stop()
	cancel()
	shutdownTimeout := time.Duration(cfg.ShutdownTimeoutSeconds) * time.Second
	if !r.Drain(shutdownTimeout) {
		log.Printf("noded: drain timed out after %s", shutdownTimeout)
	}
	<-runDone
	_ = consumer.Close()
	_ = producer.Close()

	log.Printf("noded: shutdown complete")
	if interrupted {
		return exitInterrupted
	}
	return exitOK
}

func validateContractsCommand(args []string) int {
	fs := flag.NewFlagSet("validate-contracts", flag.ContinueOnError)
	dir := fs.String("dir", ".", "directory of contract documents to validate")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}

	matches, err := filepath.Glob(filepath.Join(*dir, "*.yaml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "validate-contracts: %v\n", err)
		return exitIOFailure
	}

	hadValidationError := false
	for _, f := range matches {
		data, err := os.ReadFile(f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: read error: %v\n", f, err)
			return exitIOFailure
		}
		c, err := contract.Load(data)
		if err != nil {
			fmt.Printf("%s: INVALID: %v\n", f, err)
			hadValidationError = true
			continue
		}
		fmt.Printf("%s: OK (%s, fingerprint %s)\n", f, c.NodeID, c.Fingerprint)
	}

	if hadValidationError {
		return exitFailure
	}
	return exitOK
}

// simulateWorkflowCommand replays a recorded sequence of envelopes (one
// JSON document per line) from stdin or --file through a registry built
// entirely from mock handlers, printing each step's outcome.
func simulateWorkflowCommand(args []string) int {
	fs := flag.NewFlagSet("simulate-workflow", flag.ContinueOnError)
	configPath := fs.String("config", "noded.yaml", "path to the process configuration file")
	inputFile := fs.String("file", "", "recorded envelope sequence (defaults to stdin)")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("noded: %v", err)
		return exitFailure
	}

	contracts, err := loadContracts(cfg)
	if err != nil {
		log.Printf("noded: %v", err)
		return exitFailure
	}

	env := config.EnvMap()
	reg, err := registry.Build(context.Background(), contracts, mockBindings(), env, resolveConnection(env))
	if err != nil {
		log.Printf("noded: registry build failed: %v", err)
		return exitFailure
	}

	in := os.Stdin
	if *inputFile != "" {
		f, err := os.Open(*inputFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "simulate-workflow: %v\n", err)
			return exitIOFailure
		}
		defer f.Close()
		in = f
	}

	scanner := bufio.NewScanner(in)
	step := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		step++
		var msg envelope.Envelope
		if err := json.Unmarshal(line, &msg); err != nil {
			fmt.Printf("step %d: parse error: %v\n", step, err)
			continue
		}
		ex, ok := reg.Get(msg.NodeID)
		if !ok {
			fmt.Printf("step %d: no node %q in registry\n", step, msg.NodeID)
			continue
		}
		var params map[string]interface{}
		_ = json.Unmarshal(msg.Payload, &params)
		out := ex.Execute(context.Background(), executor.EffectInput{
			Operation:     msg.Operation,
			Params:        params,
			CorrelationID: msg.CorrelationID,
			Context:       msg.ContextScope(),
		})
		printStep(step, msg.NodeID, out)
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "simulate-workflow: %v\n", err)
		return exitIOFailure
	}
	return exitOK
}

func printStep(step int, nodeID string, out executor.EffectOutput) {
	if out.Success {
		fmt.Printf("step %d [%s]: success data=%v (%dms)\n", step, nodeID, out.Data, out.DurationMS)
		return
	}
	fmt.Printf("step %d [%s]: failure code=%s message=%q (%dms)\n", step, nodeID, out.Error.Code, out.Error.Message, out.DurationMS)
}
