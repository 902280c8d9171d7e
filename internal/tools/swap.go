package tools

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"

	"github.com/CroLens/server/internal/adapters"
	"github.com/CroLens/server/internal/jsonrpc"
	"github.com/CroLens/server/internal/simulator"
)

// unlimitedAllowance is 2^256-1, the conventional max approve value.
var unlimitedAllowance = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// swapDeadline is how far in the future the router deadline is set.
const swapDeadline = 20 * time.Minute

// findRoute picks a swap path. Single-hop wins over multi-hop; among
// single-hop candidates the deepest pool wins; multi-hop goes through the
// wrapped native or a stablecoin anchor, shortest first.
func findRoute(ctx context.Context, deps *Deps, tokenIn, tokenOut common.Address) ([]common.Address, error) {
	poolsIn, err := deps.Store.PoolsForToken(ctx, tokenIn.Hex())
	if err != nil {
		return nil, err
	}

	// Direct pool: PoolsForToken is TVL-ordered, first match is deepest.
	for _, pool := range poolsIn {
		if strings.EqualFold(pool.Token0, tokenOut.Hex()) || strings.EqualFold(pool.Token1, tokenOut.Hex()) {
			return []common.Address{tokenIn, tokenOut}, nil
		}
	}

	// Two-hop via wrapped native, then via any stablecoin counterpart.
	var hops []common.Address
	if deps.WrappedNative != (common.Address{}) {
		hops = append(hops, deps.WrappedNative)
	}
	for _, pool := range poolsIn {
		counter := pool.Token1
		if strings.EqualFold(pool.Token1, tokenIn.Hex()) {
			counter = pool.Token0
		}
		if tok, err := deps.Store.TokenByAddress(ctx, counter); err == nil && tok.IsStable {
			hops = append(hops, common.HexToAddress(counter))
		}
	}

	poolsOut, err := deps.Store.PoolsForToken(ctx, tokenOut.Hex())
	if err != nil {
		return nil, err
	}
	for _, hop := range hops {
		if hop == tokenIn || hop == tokenOut {
			continue
		}
		inLeg, outLeg := false, false
		for _, pool := range poolsIn {
			if strings.EqualFold(pool.Token0, hop.Hex()) || strings.EqualFold(pool.Token1, hop.Hex()) {
				inLeg = true
				break
			}
		}
		for _, pool := range poolsOut {
			if strings.EqualFold(pool.Token0, hop.Hex()) || strings.EqualFold(pool.Token1, hop.Hex()) {
				outLeg = true
				break
			}
		}
		if inLeg && outLeg {
			return []common.Address{tokenIn, hop, tokenOut}, nil
		}
	}

	return nil, jsonrpc.UpstreamRPC("no route")
}

// priceImpact compares the executed price against the first hop's spot
// price. Returns nil when the pool state is unavailable.
func priceImpact(ctx context.Context, deps *Deps, path []common.Address, amountIn, amountOut *big.Int) *float64 {
	pools, err := deps.Store.PoolsForToken(ctx, path[0].Hex())
	if err != nil || len(path) < 2 {
		return nil
	}
	for _, pool := range pools {
		if !strings.EqualFold(pool.Token0, path[1].Hex()) && !strings.EqualFold(pool.Token1, path[1].Hex()) {
			continue
		}
		state, err := deps.AMM.PairState(ctx, common.HexToAddress(pool.Address))
		if err != nil {
			return nil
		}
		reserveIn, reserveOut := state.Reserve0, state.Reserve1
		if strings.EqualFold(pool.Token1, path[0].Hex()) {
			reserveIn, reserveOut = state.Reserve1, state.Reserve0
		}
		if reserveIn.Sign() == 0 || amountIn.Sign() == 0 {
			return nil
		}
		spotOut := new(big.Float).Quo(
			new(big.Float).Mul(new(big.Float).SetInt(amountIn), new(big.Float).SetInt(reserveOut)),
			new(big.Float).SetInt(reserveIn),
		)
		executed := new(big.Float).SetInt(amountOut)
		spotF, _ := spotOut.Float64()
		execF, _ := executed.Float64()
		if spotF <= 0 {
			return nil
		}
		impact := (spotF - execF) / spotF
		if impact < 0 {
			impact = 0
		}
		return &impact
	}
	return nil
}

// getSwapQuote runs routing + router quote without building transactions.
func getSwapQuote(ctx context.Context, deps *Deps, args map[string]interface{}) (map[string]interface{}, error) {
	tokenIn := common.HexToAddress(StringArg(args, "token_in"))
	tokenOut := common.HexToAddress(StringArg(args, "token_out"))
	amountIn, argErr := parseAmount(StringArg(args, "amount_in"))
	if argErr != nil {
		return nil, argErr
	}

	router, err := routerAddress(ctx, deps)
	if err != nil {
		return nil, err
	}
	path, err := findRoute(ctx, deps, tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	amounts, err := deps.AMM.RouterQuote(ctx, router, amountIn, path)
	if err != nil {
		return nil, err
	}
	amountOut := amounts[len(amounts)-1]

	pathHex := make([]string, len(path))
	for i, hop := range path {
		pathHex[i] = hop.Hex()
	}

	return map[string]interface{}{
		"token_in":      tokenIn.Hex(),
		"token_out":     tokenOut.Hex(),
		"amount_in":     amountIn.String(),
		"estimated_out": amountOut.String(),
		"path":          pathHex,
		"price_impact":  impactOrNil(priceImpact(ctx, deps, path, amountIn, amountOut)),
	}, nil
}

// constructSwapTx runs the swap-construction machine:
//
//	quote -> ok? no => no route
//	read allowance  -> allowance >= amount_in => [swap]
//	                -> otherwise             => [approve, swap]
//	simulate swap (optional) -> simulation_verified
func constructSwapTx(ctx context.Context, deps *Deps, args map[string]interface{}) (map[string]interface{}, error) {
	from := common.HexToAddress(StringArg(args, "from"))
	tokenIn := common.HexToAddress(StringArg(args, "token_in"))
	tokenOut := common.HexToAddress(StringArg(args, "token_out"))
	amountIn, argErr := parseAmount(StringArg(args, "amount_in"))
	if argErr != nil {
		return nil, argErr
	}
	slippageBps := int64(NumberArg(args, "slippage_bps", 50))

	router, err := routerAddress(ctx, deps)
	if err != nil {
		return nil, err
	}
	path, err := findRoute(ctx, deps, tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	amounts, err := deps.AMM.RouterQuote(ctx, router, amountIn, path)
	if err != nil {
		return nil, err
	}
	estimatedOut := amounts[len(amounts)-1]

	// amountOutMin applies the slippage tolerance.
	minimumOut := new(big.Int).Mul(estimatedOut, big.NewInt(10000-slippageBps))
	minimumOut.Quo(minimumOut, big.NewInt(10000))

	allowance, err := adapters.Allowance(ctx, deps.RPC, tokenIn, from, router)
	if err != nil {
		return nil, err
	}
	needsApproval := allowance.Cmp(amountIn) < 0

	deadline := big.NewInt(time.Now().Add(swapDeadline).Unix())
	swapData, err := adapters.SwapCalldata(amountIn, minimumOut, path, from, deadline)
	if err != nil {
		return nil, err
	}

	steps := []map[string]interface{}{}
	stepIndex := 0
	if needsApproval {
		approveData := adapters.ApproveCalldata(router, amountIn)
		steps = append(steps, map[string]interface{}{
			"step_index":  stepIndex,
			"type":        "approval",
			"description": "Approve the router to spend the input token",
			"tx_data": map[string]interface{}{
				"to":    tokenIn.Hex(),
				"data":  hexutil.Encode(approveData),
				"value": "0",
			},
			"status": "pending",
		})
		stepIndex++
	}

	swapStatus := "pending"
	if needsApproval {
		// The swap cannot land before the approval does.
		swapStatus = "blocked"
	}
	steps = append(steps, map[string]interface{}{
		"step_index":  stepIndex,
		"type":        "swap",
		"description": "Swap via the router with slippage protection",
		"tx_data": map[string]interface{}{
			"to":    router.Hex(),
			"data":  hexutil.Encode(swapData),
			"value": "0",
		},
		"status": swapStatus,
	})

	// simulation_verified is true iff a successful simulation of the swap
	// step was obtained. The swap is simulated against current chain state;
	// a pending approval step is not applied first. Absent simulator means
	// false, never a fabricated success.
	simulationVerified := false
	if deps.Sim.Enabled() {
		result, simErr := deps.Sim.Simulate(ctx, simulator.Request{
			From: from.Hex(),
			To:   router.Hex(),
			Data: hexutil.Encode(swapData),
		})
		simulationVerified = simErr == nil && result.Success
	}

	return map[string]interface{}{
		"operation_id":        "op_" + uuid.NewString(),
		"estimated_out":       estimatedOut.String(),
		"minimum_out":         minimumOut.String(),
		"price_impact":        impactOrNil(priceImpact(ctx, deps, path, amountIn, estimatedOut)),
		"simulation_verified": simulationVerified,
		"steps":               steps,
	}, nil
}

// getApprovalStatus reads the current allowance against the router (or an
// explicit spender).
func getApprovalStatus(ctx context.Context, deps *Deps, args map[string]interface{}) (map[string]interface{}, error) {
	owner := common.HexToAddress(StringArg(args, "owner"))
	token := common.HexToAddress(StringArg(args, "token"))

	spender, err := resolveSpender(ctx, deps, StringArg(args, "spender"))
	if err != nil {
		return nil, err
	}

	allowance, err := adapters.Allowance(ctx, deps.RPC, token, owner, spender)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"owner":     owner.Hex(),
		"token":     token.Hex(),
		"spender":   spender.Hex(),
		"allowance": allowance.String(),
		"unlimited": allowance.Cmp(new(big.Int).Rsh(unlimitedAllowance, 1)) > 0,
	}, nil
}

// constructApprovalTx builds an approve transaction, defaulting to an
// unlimited allowance for the router.
func constructApprovalTx(ctx context.Context, deps *Deps, args map[string]interface{}) (map[string]interface{}, error) {
	owner := common.HexToAddress(StringArg(args, "owner"))
	token := common.HexToAddress(StringArg(args, "token"))

	spender, err := resolveSpender(ctx, deps, StringArg(args, "spender"))
	if err != nil {
		return nil, err
	}

	amount := unlimitedAllowance
	if raw := StringArg(args, "amount"); raw != "" {
		parsed, argErr := parseAmount(raw)
		if argErr != nil {
			return nil, argErr
		}
		amount = parsed
	}

	return map[string]interface{}{
		"owner":   owner.Hex(),
		"token":   token.Hex(),
		"spender": spender.Hex(),
		"amount":  amount.String(),
		"tx_data": map[string]interface{}{
			"to":    token.Hex(),
			"data":  hexutil.Encode(adapters.ApproveCalldata(spender, amount)),
			"value": "0",
		},
	}, nil
}

func resolveSpender(ctx context.Context, deps *Deps, explicit string) (common.Address, error) {
	if explicit != "" {
		return common.HexToAddress(explicit), nil
	}
	return routerAddress(ctx, deps)
}

func impactOrNil(impact *float64) interface{} {
	if impact == nil {
		return nil
	}
	return *impact
}
