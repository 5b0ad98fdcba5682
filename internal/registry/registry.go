// internal/registry/registry.go
package registry

// Registry classifies on-chain program addresses as known swap venues. The
// table is built once at startup and never mutated afterwards.
type Registry struct {
	programs map[string]string
}

// knownPrograms maps program address -> venue name for the DEXes the target
// wallets trade on. Unknown programs fall through to the parser's
// large-delta heuristic.
var knownPrograms = map[string]string{
	"675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8": "Raydium AMM v4",
	"CAMMCzo5YL8w4VFF8KVHrK22GGUsp5VTaW7grrKgrWqK": "Raydium CLMM",
	"CPMMoo8L3F4NbTegBCKVNunggL7H1ZpdTHKxQB5qKP1C": "Raydium CPMM",
	"whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc":  "Orca Whirlpool",
	"9W959DqEETiGZocYWCQPaJ6sBmUzgfxXfqGeTEdp3aQP": "Orca v2",
	"LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo":  "Meteora DLMM",
	"Eo7WjKq67rjJQSZxS6z3YkapzY3eMj6Xy8X5EQVn5UaB": "Meteora Pools",
	"6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P":  "Pump.fun",
	"pAMMBay6oceH9fJKBRHGP5D4bD4sWpmSwMn52FMfXEA":  "Pump AMM",
	"JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4":  "Jupiter v6",
	"PhoeNiXZ8ByJGLkxNfZRnkUfjvmuYqLR89jjFHGqdXY":  "Phoenix",
	"srmqPvymJeFKQ4zGQed1GFppgkRHL9kaELCbyksJtPX":  "OpenBook",
}

// New builds the default registry.
func New() *Registry {
	return &Registry{programs: knownPrograms}
}

// NewWithPrograms builds a registry from a custom table. Used in tests and
// for operators extending the venue list.
func NewWithPrograms(programs map[string]string) *Registry {
	copied := make(map[string]string, len(programs))
	for addr, name := range programs {
		copied[addr] = name
	}
	return &Registry{programs: copied}
}

// Lookup returns the venue name for a program address.
func (r *Registry) Lookup(program string) (string, bool) {
	name, ok := r.programs[program]
	return name, ok
}

// MatchAccounts returns the first known venue among the transaction's
// account keys, or "" when none match.
func (r *Registry) MatchAccounts(accounts []string) string {
	for _, acc := range accounts {
		if name, ok := r.programs[acc]; ok {
			return name
		}
	}
	return ""
}

// Size returns the number of registered programs.
func (r *Registry) Size() int {
	return len(r.programs)
}
