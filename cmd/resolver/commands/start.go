package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/DevJSter/eth-suiResolver/internal/chainadapter"
	"github.com/DevJSter/eth-suiResolver/internal/chainadapter/evmchain"
	"github.com/DevJSter/eth-suiResolver/internal/chainadapter/suichain"
	"github.com/DevJSter/eth-suiResolver/internal/config"
	"github.com/DevJSter/eth-suiResolver/internal/controlplane"
	"github.com/DevJSter/eth-suiResolver/internal/correlator"
	"github.com/DevJSter/eth-suiResolver/internal/ingest"
	"github.com/DevJSter/eth-suiResolver/internal/keysigner"
	"github.com/DevJSter/eth-suiResolver/internal/obslog"
	"github.com/DevJSter/eth-suiResolver/internal/scheduler"
	"github.com/DevJSter/eth-suiResolver/internal/store"
	"github.com/DevJSter/eth-suiResolver/internal/store/memstore"
	"github.com/DevJSter/eth-suiResolver/internal/store/postgres"
	"github.com/DevJSter/eth-suiResolver/internal/swapengine"
	"github.com/DevJSter/eth-suiResolver/internal/swaptypes"
)

// exitCoder lets a command signal a specific process exit code without
// cobra itself printing a second error line (spec.md §6's 0/1/2/130
// contract).
type exitCoder struct {
	code int
	err  error
}

func (e *exitCoder) Error() string { return e.err.Error() }

// Code lets the CLI entrypoint read back the exit code a command
// wants without cobra needing to know about it.
func (e *exitCoder) Code() int { return e.code }

var errShutdownBySignal = errors.New("shutdown requested by signal")

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "run the resolver daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context())
		},
	}
}

func runStart(ctx context.Context) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return &exitCoder{code: 2, err: err}
	}
	if err := cfg.Validate(); err != nil {
		return &exitCoder{code: 2, err: err}
	}

	logger := obslog.New(cfg.ServiceName, cfg.ServiceVersion, cfg.Debug)
	obslog.SetLevel(cfg.LogLevel)
	logger.Info().Str("config", cfg.String()).Msg("starting resolver")

	profile, err := cfg.TimeoutProfile()
	if err != nil {
		return &exitCoder{code: 2, err: err}
	}

	st, err := buildStore(cfg)
	if err != nil {
		return &exitCoder{code: 1, err: err}
	}
	defer st.Close()

	adapterA, adapterB, err := buildAdapters(ctx, cfg, logger)
	if err != nil {
		return &exitCoder{code: 1, err: err}
	}
	adapters := map[swaptypes.Ledger]chainadapter.Adapter{
		swaptypes.LedgerA: adapterA,
		swaptypes.LedgerB: adapterB,
	}

	ref := &evaluatorRef{}
	sched := scheduler.New(scheduler.Config{
		WorkerCount:       cfg.WorkerCount,
		ChannelBufferSize: cfg.ChannelBufferSize,
		RateLimitA:        cfg.RateLimitARPS,
		RateLimitB:        cfg.RateLimitBRPS,
	}, ref, st, logger)

	cp := controlplane.New(controlplane.Config{
		HealthPort:     cfg.HealthPort,
		ControlPort:    cfg.ControlPort,
		ServiceVersion: cfg.ServiceVersion,
		StakeA:         cfg.ResolverStakeA,
		StakeB:         cfg.ResolverStakeB,
	}, st, adapters, sched, logger)

	if err := cp.RegisterAsResolver(ctx); err != nil {
		return &exitCoder{code: 2, err: err}
	}

	engine := swapengine.New(swapengine.Config{
		MaxAttempts:   cfg.MaxAttempts,
		BaseBackoffMs: cfg.BaseBackoffMs,
		MaxBackoffMs:  cfg.MaxBackoffMs,
		MinTimeout:    profile.MinTimeout,
	}, adapters, st, cp, sched, logger)
	ref.engine = engine

	corr := correlator.New(st, cp, profile.SafetyMargin, logger)

	ingestA, err := ingest.New(swaptypes.LedgerA, adapterA, st, corr, sched, msDuration(cfg.PollIntervalAMs), logger)
	if err != nil {
		return &exitCoder{code: 1, err: err}
	}
	ingestB, err := ingest.New(swaptypes.LedgerB, adapterB, st, corr, sched, msDuration(cfg.PollIntervalBMs), logger)
	if err != nil {
		return &exitCoder{code: 1, err: err}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := sched.Start(runCtx); err != nil {
		return &exitCoder{code: 1, err: err}
	}
	if err := cp.Start(runCtx); err != nil {
		return &exitCoder{code: 1, err: err}
	}
	go runIngestor(runCtx, logger, ingestA)
	go runIngestor(runCtx, logger, ingestB)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutdown signal received")

	cancel()
	sched.Wait()
	stopCtx, stopCancel := context.WithCancel(context.Background())
	defer stopCancel()
	if err := cp.Stop(stopCtx); err != nil {
		logger.Error().Err(err).Msg("error during control plane shutdown")
	}

	logger.Info().Msg("resolver stopped")
	return &exitCoder{code: 130, err: errShutdownBySignal}
}

// evaluatorRef breaks the construction-order cycle between Scheduler
// (needs an Evaluator) and Engine (needs a Rearmer that is the
// Scheduler): it is handed to the Scheduler before Engine exists and
// patched with the real engine immediately after.
type evaluatorRef struct {
	engine *swapengine.Engine
}

func (r *evaluatorRef) Evaluate(ctx context.Context, swapID swaptypes.SwapID, reason string) error {
	return r.engine.Evaluate(ctx, swapID, reason)
}

func buildStore(cfg *config.Config) (store.Store, error) {
	if cfg.StoreURL == "memory" {
		return memstore.New(), nil
	}
	return postgres.Open(cfg.StoreURL)
}

func buildAdapters(ctx context.Context, cfg *config.Config, logger *obslog.Logger) (chainadapter.Adapter, chainadapter.Adapter, error) {
	evmSigner, err := keysigner.NewEVMKeySigner(cfg.KeyRefA)
	if err != nil {
		return nil, nil, err
	}
	adapterA, err := evmchain.New(ctx, evmchain.Config{
		Endpoint:       cfg.ChainAEndpoint,
		EscrowContract: common.HexToAddress(cfg.EscrowContractA),
		FinalityDepth:  cfg.FinalityDepthA,
		RateLimitRPS:   cfg.RateLimitARPS,
	}, evmSigner, logger)
	if err != nil {
		return nil, nil, err
	}

	suiSigner, err := keysigner.NewSuiKeySigner(cfg.KeyRefB)
	if err != nil {
		return nil, nil, err
	}
	adapterB := suichain.New(suichain.Config{
		RPCEndpoint:    cfg.ChainBEndpoint,
		PackageID:      cfg.SuiPackageID,
		RegistryObject: cfg.SuiRegistryObject,
		FinalityDepth:  cfg.FinalityDepthB,
		RateLimitRPS:   cfg.RateLimitBRPS,
	}, suiSigner, logger)

	return adapterA, adapterB, nil
}

func runIngestor(ctx context.Context, logger *obslog.Logger, in *ingest.Ingestor) {
	if err := in.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("ingestor stopped unexpectedly")
	}
}
