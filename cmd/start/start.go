package start

import (
	"context"
	"os"
	"os/signal"
	"runtime/pprof"
	"strconv"
	"syscall"

	"github.com/benchroom/benchroom/api"
	"github.com/benchroom/benchroom/api/rest/bind"
	"github.com/benchroom/benchroom/internal/event"
	"github.com/benchroom/benchroom/internal/history"
	"github.com/benchroom/benchroom/internal/interview"
	"github.com/benchroom/benchroom/internal/kv"
	"github.com/benchroom/benchroom/internal/llm"
	"github.com/benchroom/benchroom/internal/orchestrator"
	"github.com/benchroom/benchroom/internal/reconcile"
	"github.com/benchroom/benchroom/internal/repo"
	"github.com/benchroom/benchroom/internal/sandbox/docker"
	"github.com/benchroom/benchroom/internal/secret"
	"github.com/benchroom/benchroom/internal/timer"
	"github.com/benchroom/benchroom/pkg/db"
	"github.com/benchroom/benchroom/pkg/env"
	"github.com/benchroom/benchroom/pkg/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const (
	usage   = "start"
	short   = "Start the benchroom server"
	long    = "This command starts the benchroom API, the sandbox orchestrator and the reconcile loop"
	example = "benchroom start"
)

var (
	// Cmd is the start command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		Aliases:    []string{"s"},
		SuggestFor: []string{"launch", "boot", "up", "run", "serve"},
		Example:    example,
		RunE:       start,
	}
)

func start(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGUSR1, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalChan)

	go func() {
		for s := range signalChan {
			switch s {
			case syscall.SIGUSR1:
				log.Info("dumping stack traces due to SIGUSR1 signal")
				if profile := pprof.Lookup("goroutine"); profile != nil {
					if err := profile.WriteTo(os.Stdout, 1); err != nil {
						log.Error("write goroutine profile", "error", err)
					}
				}
			default:
				log.Info("gracefully shutting down", "signal", s.String())
				cancel()
				return
			}
		}
	}()

	vars := env.Variables()

	log.Info("migrating database")
	gdb := db.Connection()
	if err := db.Migrate(gdb); err != nil {
		return errors.Wrap(err, "database migration failure")
	}

	store, err := kv.Open(kv.Options{Path: vars.DataDir})
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("failed to close data dir", "error", err)
		}
	}()

	timers, err := timer.NewRegistry(ctx, timer.NewBadgerStore(store), timer.WithDefaults(vars.InitialTimer, vars.ProjectTimer))
	if err != nil {
		return errors.Wrap(err, "load timers")
	}

	chats, err := history.New(ctx, history.NewBadgerStore(store))
	if err != nil {
		return errors.Wrap(err, "load chat history")
	}

	model, err := llm.New(ctx, llm.Config{APIKey: vars.GenAIAPIKey, Model: vars.GenAIModel})
	if err != nil {
		return errors.Wrap(err, "configure model")
	}
	log.Info("interview model configured", "model", model.Name())

	engine, err := docker.NewEngine()
	if err != nil {
		return errors.Wrap(err, "connect to docker")
	}

	resolver, err := secret.NewResolver(secretConfig(vars))
	if err != nil {
		return errors.Wrap(err, "secret resolver configuration failure")
	}

	bus := event.New()

	orch := orchestrator.New(orchestrator.Config{
		Image:            vars.SandboxImage,
		ContainerPort:    sandboxPort(vars.SandboxPort),
		MountTarget:      vars.SandboxMountTarget,
		User:             vars.SandboxUser,
		Pull:             vars.PullImage,
		ProjectsDir:      vars.ProjectsDir,
		ServerURL:        vars.ServerURL,
		PortWaitAttempts: vars.PortWaitAttempts,
		PortWaitInterval: vars.PortWaitInterval,
		StopTimeout:      vars.StopTimeout,
	}, gdb, engine, repo.NewGitCloner(resolver), timers, bus)

	loop, err := reconcile.New(vars.ReconcileSchedule, timers, orch)
	if err != nil {
		return err
	}

	deps := &bind.Dependencies{
		DB:           gdb,
		Timers:       timers,
		History:      chats,
		Session:      interview.NewSession(chats, timers, orch, model, bus),
		Orchestrator: orch,
		Bus:          bus,
	}

	go loop.Listen(ctx)

	log.Info("spinning up api", "port", vars.Port)
	return api.Start(ctx, deps)
}

func secretConfig(vars env.Environment) secret.Config {
	cfg := secret.Config{EnableEnv: true}
	if vars.VaultAddress != "" {
		cfg.Vault = &secret.VaultConfig{
			Address:   vars.VaultAddress,
			Token:     vars.VaultToken,
			Namespace: vars.VaultNamespace,
		}
	}
	return cfg
}

func sandboxPort(port int) string {
	if port <= 0 {
		return ""
	}
	return strconv.Itoa(port)
}
