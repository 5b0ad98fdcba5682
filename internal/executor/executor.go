// internal/executor/executor.go
package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/google/uuid"
	"github.com/solmirror/mirror-bot/internal/types"
	"github.com/solmirror/mirror-bot/internal/wallet"
	"go.uber.org/zap"
)

const (
	confirmAttempts = 30
	confirmSpacing  = 2 * time.Second

	// sellRetryLimit bounds slippage escalation rounds before giving up and
	// surfacing the position to the operator.
	sellRetryLimit = 4

	// sellRetryWait is the base pause before a sell retry; later attempts
	// back off exponentially from here.
	sellRetryWait = 2 * time.Second
)

var (
	// ErrConfirmationTimeout means the transaction was submitted but never
	// reached confirmed status within the polling window.
	ErrConfirmationTimeout = errors.New("transaction confirmation timed out")

	// ErrManualIntervention means automation exhausted its retries and an
	// operator must close the position by hand.
	ErrManualIntervention = errors.New("manual intervention required")
)

// Config carries the executor's tunables.
type Config struct {
	PaperTrading bool
	SlippageBps  int
	AntiMEV      bool
}

// Executor turns gate-approved signals into submitted swaps. In paper mode
// it fabricates fills without touching the chain.
type Executor struct {
	cfg    Config
	wallet *wallet.Wallet // nil in paper mode
	rpc    *rpc.Client
	quotes *QuoteClient
	prober *Prober
	fees   *FeeOracle
	logger *zap.Logger

	submitClients map[string]*rpc.Client

	// execute is swapped out in tests; production always points at Execute.
	execute   func(context.Context, types.TradeExecution) types.ExecutionResult
	retryWait time.Duration
}

// New creates an executor. wallet may be nil only when cfg.PaperTrading is
// set.
func New(cfg Config, w *wallet.Wallet, rpcClient *rpc.Client, quotes *QuoteClient, prober *Prober, fees *FeeOracle, logger *zap.Logger) *Executor {
	e := &Executor{
		cfg:           cfg,
		wallet:        w,
		rpc:           rpcClient,
		quotes:        quotes,
		prober:        prober,
		fees:          fees,
		logger:        logger.Named("executor"),
		submitClients: make(map[string]*rpc.Client),
		retryWait:     sellRetryWait,
	}
	e.execute = e.Execute
	return e
}

// Buy swaps lamports of SOL into the token.
func (e *Executor) Buy(ctx context.Context, tokenMint string, lamports uint64) types.ExecutionResult {
	return e.Execute(ctx, types.TradeExecution{
		Side:        types.ActionBuy,
		TokenMint:   tokenMint,
		AmountIn:    lamports,
		SlippageBps: e.cfg.SlippageBps,
		AntiMEV:     e.cfg.AntiMEV,
	})
}

// Sell swaps a raw token amount back into SOL, escalating slippage on
// failure. A sell that still fails at the ceiling returns
// ErrManualIntervention.
func (e *Executor) Sell(ctx context.Context, tokenMint string, rawAmount uint64) types.ExecutionResult {
	exec := types.TradeExecution{
		Side:        types.ActionSell,
		TokenMint:   tokenMint,
		AmountIn:    rawAmount,
		SlippageBps: e.cfg.SlippageBps,
		AntiMEV:     e.cfg.AntiMEV,
	}

	pause := backoff.NewExponentialBackOff()
	pause.InitialInterval = e.retryWait

	var result types.ExecutionResult
	for attempt := 0; attempt < sellRetryLimit; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return result
			case <-time.After(pause.NextBackOff()):
			}
		}

		result = e.execute(ctx, exec)
		if result.Success || ctx.Err() != nil {
			return result
		}

		// A confirmation timeout means the transaction is already on the
		// wire with an unknown outcome. Re-submitting could fill the sell
		// twice, so this attempt is surfaced instead of retried.
		if errors.Is(result.Err, ErrConfirmationTimeout) {
			e.logger.Error("Sell confirmation timed out, outcome unknown",
				zap.String("token", tokenMint),
				zap.String("signature", result.Signature),
				zap.Error(result.Err))
			return result
		}

		if exec.SlippageBps >= types.MaxSlippageBps {
			break
		}
		exec.SlippageBps = types.EscalateSlippage(exec.SlippageBps)
		e.logger.Warn("Sell failed, escalating slippage",
			zap.String("token", tokenMint),
			zap.Int("attempt", attempt+1),
			zap.Int("next_slippage_bps", exec.SlippageBps),
			zap.Error(result.Err))
	}

	result.Err = fmt.Errorf("sell of %s failed at %d bps slippage: %w",
		tokenMint, exec.SlippageBps, ErrManualIntervention)
	return result
}

// Execute performs one swap attempt end to end: quote, build, sign, submit,
// confirm.
func (e *Executor) Execute(ctx context.Context, exec types.TradeExecution) types.ExecutionResult {
	inputMint, outputMint := types.WSOLMint, exec.TokenMint
	if exec.Side == types.ActionSell {
		inputMint, outputMint = exec.TokenMint, types.WSOLMint
	}

	quote, err := e.quotes.GetQuote(ctx, inputMint, outputMint, exec.AmountIn, exec.SlippageBps)
	if err != nil {
		return types.ExecutionResult{SlippageBps: exec.SlippageBps, Err: fmt.Errorf("quote failed: %w", err)}
	}

	if e.cfg.PaperTrading {
		// Paper fills assume the worst price the slippage tolerance allows,
		// so simulated results never flatter the strategy.
		outAmount := types.MinAmountOut(quote.OutAmount, exec.SlippageBps)
		sig := "paper-" + uuid.New().String()
		e.logger.Info("Paper trade filled",
			zap.String("side", string(exec.Side)),
			zap.String("token", exec.TokenMint),
			zap.Uint64("in_amount", quote.InAmount),
			zap.Uint64("out_amount", outAmount),
			zap.String("signature", sig))
		return types.ExecutionResult{
			Success:     true,
			Signature:   sig,
			OutAmount:   outAmount,
			SlippageBps: exec.SlippageBps,
			Paper:       true,
		}
	}

	if e.wallet == nil {
		return types.ExecutionResult{SlippageBps: exec.SlippageBps,
			Err: errors.New("live trading requires a wallet")}
	}

	priorityFee := e.fees.PriorityFeeLamports(ctx, exec.AntiMEV)
	tx, err := e.quotes.BuildSwap(ctx, quote, e.wallet.String(), priorityFee)
	if err != nil {
		return types.ExecutionResult{SlippageBps: exec.SlippageBps, Err: fmt.Errorf("swap build failed: %w", err)}
	}

	if err := e.wallet.SignTransaction(tx); err != nil {
		return types.ExecutionResult{SlippageBps: exec.SlippageBps, Err: fmt.Errorf("failed to sign transaction: %w", err)}
	}

	sig, err := e.submit(ctx, tx)
	if err != nil {
		return types.ExecutionResult{SlippageBps: exec.SlippageBps, Err: fmt.Errorf("submission failed: %w", err)}
	}

	e.logger.Info("Transaction submitted",
		zap.String("side", string(exec.Side)),
		zap.String("token", exec.TokenMint),
		zap.String("signature", sig.String()),
		zap.Uint64("priority_fee_lamports", priorityFee))

	if err := e.confirm(ctx, sig); err != nil {
		return types.ExecutionResult{
			Signature:   sig.String(),
			SlippageBps: exec.SlippageBps,
			Err:         err,
		}
	}

	return types.ExecutionResult{
		Success:     true,
		Signature:   sig.String(),
		OutAmount:   quote.OutAmount,
		SlippageBps: exec.SlippageBps,
	}
}

// submit sends the signed transaction to the fastest probed endpoint, or the
// default RPC when no submission endpoints are configured.
func (e *Executor) submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	client := e.rpc
	if endpoint := e.prober.Fastest(ctx); endpoint != "" {
		client = e.submitClient(endpoint)
	}
	return client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       true,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
}

func (e *Executor) submitClient(endpoint string) *rpc.Client {
	if client, ok := e.submitClients[endpoint]; ok {
		return client
	}
	client := rpc.New(endpoint)
	e.submitClients[endpoint] = client
	return client
}

// confirm polls signature status at fixed spacing until the transaction is
// confirmed or finalized.
func (e *Executor) confirm(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(confirmSpacing)
	defer ticker.Stop()

	for attempt := 0; attempt < confirmAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		out, err := e.rpc.GetSignatureStatuses(ctx, false, sig)
		if err != nil {
			e.logger.Debug("Status poll failed", zap.Error(err))
			continue
		}
		if len(out.Value) == 0 || out.Value[0] == nil {
			continue
		}

		status := out.Value[0]
		if status.Err != nil {
			return fmt.Errorf("transaction %s failed on chain: %v", sig, status.Err)
		}
		switch status.ConfirmationStatus {
		case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
			return nil
		}
	}

	return fmt.Errorf("transaction %s: %w", sig, ErrConfirmationTimeout)
}

// TokenBalanceRaw reads the wallet's raw token balance for a mint, used to
// size sells. A missing token account reads as zero.
func (e *Executor) TokenBalanceRaw(ctx context.Context, tokenMint string) (uint64, error) {
	if e.cfg.PaperTrading || e.wallet == nil {
		return 0, nil
	}

	mint, err := solana.PublicKeyFromBase58(tokenMint)
	if err != nil {
		return 0, fmt.Errorf("invalid mint %s: %w", tokenMint, err)
	}
	ata, err := e.wallet.ATA(mint)
	if err != nil {
		return 0, fmt.Errorf("failed to derive token account: %w", err)
	}

	out, err := e.rpc.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, nil
	}
	if out == nil || out.Value == nil {
		return 0, nil
	}
	raw, err := strconv.ParseUint(out.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid balance amount %q: %w", out.Value.Amount, err)
	}
	return raw, nil
}
