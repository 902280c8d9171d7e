package tools

import (
	"context"
	"errors"

	"github.com/CroLens/server/internal/catalog"
	"github.com/CroLens/server/internal/jsonrpc"
)

// searchContract fuzzy-matches the catalog. Validation already bounded the
// query at 200 characters and the limit at 1..50.
func searchContract(ctx context.Context, deps *Deps, args map[string]interface{}) (map[string]interface{}, error) {
	query := StringArg(args, "query")
	limit := int(NumberArg(args, "limit", 10))

	results, err := deps.Store.SearchContracts(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]interface{}, len(results))
	for i, r := range results {
		out[i] = map[string]interface{}{
			"address": r.Address,
			"name":    r.Name,
			"kind":    r.Kind,
			"symbol":  r.Symbol,
		}
	}
	return map[string]interface{}{"results": out}, nil
}

// resolveContract labels one address from the catalog.
func resolveContract(ctx context.Context, deps *Deps, args map[string]interface{}) (map[string]interface{}, error) {
	address := StringArg(args, "address")

	if contract, err := deps.Store.ContractByAddress(ctx, address); err == nil {
		return map[string]interface{}{
			"address":  contract.Address,
			"name":     contract.Name,
			"kind":     contract.Kind,
			"protocol": contract.ProtocolID,
			"found":    true,
		}, nil
	} else if !errors.Is(err, catalog.ErrNotFound) {
		return nil, err
	}

	if token, err := deps.Store.TokenByAddress(ctx, address); err == nil {
		return map[string]interface{}{
			"address": token.Address,
			"name":    token.Name,
			"kind":    "token",
			"symbol":  token.Symbol,
			"found":   true,
		}, nil
	} else if !errors.Is(err, catalog.ErrNotFound) {
		return nil, err
	}

	return nil, jsonrpc.MethodNotFound("Address not present in the catalog")
}
