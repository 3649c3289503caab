// Command quorum runs and inspects multi-model deliberations: it loads a
// provider/profile configuration, drives the Engine's full pipeline for a
// single input, and offers subcommands to verify, export, and serve the
// resulting ledger and attestation artifacts.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/quorumlabs/quorum/internal/arena"
	"github.com/quorumlabs/quorum/internal/attestation"
	"github.com/quorumlabs/quorum/internal/config"
	"github.com/quorumlabs/quorum/internal/credentials"
	"github.com/quorumlabs/quorum/internal/engine"
	"github.com/quorumlabs/quorum/internal/hitl"
	"github.com/quorumlabs/quorum/internal/httpapi"
	"github.com/quorumlabs/quorum/internal/ledger"
	"github.com/quorumlabs/quorum/internal/memory"
	"github.com/quorumlabs/quorum/internal/metrics"
	"github.com/quorumlabs/quorum/internal/model"
	"github.com/quorumlabs/quorum/internal/policy"
	"github.com/quorumlabs/quorum/internal/provider"
)

func main() {
	logger := log.New()
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if len(os.Args) < 2 {
		showHelp()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "deliberate":
		err = runDeliberate(logger, os.Args[2:])
	case "ledger":
		err = runLedger(os.Args[2:])
	case "serve":
		err = runServe(logger, os.Args[2:])
	case "version":
		showVersion()
		return
	case "help", "-help", "--help":
		showHelp()
		return
	default:
		fmt.Fprintf(os.Stderr, "quorum: unknown command %q\n\n", os.Args[1])
		showHelp()
		os.Exit(1)
	}
	if err != nil {
		logger.WithError(err).Fatal("quorum: command failed")
	}
}

func showHelp() {
	fmt.Print(`Quorum - multi-model deliberation engine

Usage:
  quorum deliberate -input "question" [options]
  quorum ledger verify -ledger path/to/ledger.json
  quorum ledger export  -ledger path/to/ledger.json -id <session-id>
  quorum serve -addr :8080 [options]
  quorum version

Run "quorum <command> -help" for the flags each command accepts.
`)
}

func showVersion() {
	fmt.Println("quorum v0.1.0")
}

// sharedConfig loads and validates the layered Config (builtin defaults,
// profile file, project file) that subcommands talking to providers use.
func sharedConfig(profilePath, projectPath string) (*config.Config, error) {
	loader := config.Loader{ProfilePath: profilePath, ProjectPath: projectPath}
	return loader.Load(nil)
}

func buildRegistry(resolver credentials.Resolver) *provider.Registry {
	reg := provider.NewRegistry()
	reg.Register("http", func(cfg model.ProviderConfig) (provider.Adapter, error) {
		return provider.NewHTTPAdapter(cfg, resolver)
	})
	reg.Register("websocket", func(cfg model.ProviderConfig) (provider.Adapter, error) {
		return provider.NewWebSocketAdapter(cfg)
	})
	reg.Register("mock", func(cfg model.ProviderConfig) (provider.Adapter, error) {
		return provider.NewMockAdapter(cfg, nil), nil
	})
	return reg
}

func runDeliberate(logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("deliberate", flag.ExitOnError)
	input := fs.String("input", "", "the question to deliberate on (required)")
	profilePath := fs.String("profile", "", "path to a profile YAML file")
	projectPath := fs.String("project", "", "path to a project config YAML file")
	sessionDir := fs.String("session-dir", "", "directory to persist this session's artifacts")
	indexPath := fs.String("index", "", "path to the shared session index file")
	policyDirs := fs.String("policy-dirs", "", "comma-separated policy search directories")
	policyName := fs.String("policy", "default", "name of the policy document to enforce")
	ledgerPath := fs.String("ledger", "", "path to the append-only ledger file")
	arenaPath := fs.String("arena", "", "path to the reputation arena file")
	memoryPath := fs.String("memory", "", "path to the memory store file")
	credentialStore := fs.String("credential-store", "", "directory holding refreshable OAuth tokens")
	redisAddr := fs.String("redis-addr", "", "optional Redis address mirroring arena stats across processes")
	pgConn := fs.String("pg-conn", "", "optional Postgres connection string mirroring the ledger")
	attestationKey := fs.String("attestation-key", "", "optional signing key to print a JWT attestation export")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" {
		return fmt.Errorf("quorum deliberate: -input is required")
	}

	cfg, err := sharedConfig(*profilePath, *projectPath)
	if err != nil {
		return err
	}

	resolver := credentials.NewChainResolver(*credentialStore)
	registry := buildRegistry(resolver)
	adapters, err := registry.BuildAll(cfg.Providers)
	if err != nil {
		return err
	}

	eng := engine.New(adapters)
	eng.Logger = log.NewEntry(logger)
	eng.Metrics = metrics.NewRegistry()

	if *policyDirs != "" {
		polEngine := policy.NewEngine(eng.Logger)
		if err := polEngine.LoadPolicies(strings.Split(*policyDirs, ",")); err != nil {
			return err
		}
		eng.Policy = polEngine
	}

	if *arenaPath != "" {
		ar, err := arena.Open(*arenaPath)
		if err != nil {
			return err
		}
		eng.Arena = ar
	}
	if *redisAddr != "" {
		eng.ArenaMirror = arena.NewRedisMirror(*redisAddr, "", 0, 30*24*time.Hour)
		defer eng.ArenaMirror.Close()
	}

	if *ledgerPath != "" {
		led, err := ledger.Open(*ledgerPath)
		if err != nil {
			return err
		}
		eng.Ledger = led
	}
	if *pgConn != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		mirror, err := ledger.OpenPostgresMirror(ctx, *pgConn)
		cancel()
		if err != nil {
			return err
		}
		eng.LedgerMirror = mirror
		defer mirror.Close(context.Background())
	}

	if *memoryPath != "" {
		mem, err := memory.Open(*memoryPath)
		if err != nil {
			return err
		}
		eng.Memory = mem
	}

	opts := engine.Options{
		Input:      *input,
		Profile:    &cfg.Profile,
		Providers:  cfg.Providers,
		PolicyName: *policyName,
		SessionDir: *sessionDir,
		IndexPath:  *indexPath,
		MemoryK:    3,
	}

	result, err := eng.Deliberate(context.Background(), opts)
	if err != nil {
		return fmt.Errorf("quorum: deliberation %s ended in state %s: %w", result.SessionID, result.State, err)
	}

	fmt.Printf("Session: %s\n\n", result.SessionID)
	fmt.Println(result.Synthesis.Content)
	fmt.Printf("\nSynthesizer: %s  Consensus: %.2f  Confidence: %.2f\n",
		result.Synthesis.Synthesizer, result.Synthesis.ConsensusScore, result.Synthesis.ConfidenceScore)
	if result.Synthesis.Controversial {
		fmt.Printf("Minority report:\n%s\n", result.Synthesis.MinorityReport)
	}

	if *attestationKey != "" {
		token, err := attestation.ExportJWT(result.Attestation, []byte(*attestationKey))
		if err != nil {
			return err
		}
		fmt.Printf("\nAttestation JWT:\n%s\n", token)
	}
	return nil
}

func runLedger(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("quorum ledger: expected a subcommand (verify, export)")
	}
	switch args[0] {
	case "verify":
		fs := flag.NewFlagSet("ledger verify", flag.ExitOnError)
		path := fs.String("ledger", "", "path to the ledger file (required)")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		led, err := ledger.Open(*path)
		if err != nil {
			return err
		}
		result, err := led.VerifyIntegrity()
		if err != nil {
			return err
		}
		if !result.Valid {
			return fmt.Errorf("ledger broken at %s: %s", result.BrokenAt, result.Message)
		}
		fmt.Println("ledger: chain intact")
		return nil
	case "export":
		fs := flag.NewFlagSet("ledger export", flag.ExitOnError)
		path := fs.String("ledger", "", "path to the ledger file (required)")
		id := fs.String("id", "last", "session ID to export, or \"last\"")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		led, err := ledger.Open(*path)
		if err != nil {
			return err
		}
		entry, ok := led.Get(*id)
		if !ok {
			return fmt.Errorf("ledger: no entry for %q", *id)
		}
		fmt.Println(ledger.ExportADR(entry))
		return nil
	default:
		return fmt.Errorf("quorum ledger: unknown subcommand %q", args[0])
	}
}

func runServe(logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", ":8080", "address to listen on")
	ledgerPath := fs.String("ledger", "", "path to the ledger file to browse")
	indexPath := fs.String("index", "", "path to the shared session index to browse")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var led *ledger.Ledger
	if *ledgerPath != "" {
		var err error
		led, err = ledger.Open(*ledgerPath)
		if err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	router := httpapi.NewRouter(httpapi.Dependencies{
		Ledger:    led,
		IndexPath: *indexPath,
		HITL:      hitl.NewWebSocketHandler(ctx),
		Logger:    log.NewEntry(logger),
	})

	server := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	logger.WithField("addr", *addr).Info("quorum: serving collaborator surface")
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("quorum: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
