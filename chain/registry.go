package chain

import "github.com/btcsuite/btcd/chaincfg"

// Code is an enum-like identifier for the base chains a swap can lock up
// funds on. Modeled on lnd's chainCode enum, generalized from a
// two-entry Bitcoin/Litecoin set to whatever the deployment's config
// enables.
type Code uint32

const (
	// BitcoinChain identifies the Bitcoin network.
	BitcoinChain Code = iota

	// LitecoinChain identifies the Litecoin network.
	LitecoinChain
)

func (c Code) String() string {
	switch c {
	case BitcoinChain:
		return "bitcoin"
	case LitecoinChain:
		return "litecoin"
	default:
		return "unknown"
	}
}

// Entry bundles a Code with the chain parameters and capability set its
// configured backend reports, so the nursery can address "the BTC chain" or
// "the LTC chain" without threading a Client and a chaincfg.Params through
// separately everywhere.
type Entry struct {
	Code         Code
	Params       *chaincfg.Params
	Client       Client
	Observer     *Observer
	Capabilities Capabilities
}

// Registry holds one Entry per base chain the deployment has configured.
// Grounded on lnd's chainControl/chainreg wiring, trimmed down
// from full wallet+channel-graph construction to just what a swap engine
// needs: a client, an observer, and the capability set that governs
// fee-estimation and notification fallbacks.
type Registry struct {
	chains map[Code]*Entry
}

// NewRegistry returns an empty Registry; call Register per configured chain.
func NewRegistry() *Registry {
	return &Registry{chains: make(map[Code]*Entry)}
}

// Register adds or replaces the Entry for code.
func (r *Registry) Register(entry *Entry) {
	r.chains[entry.Code] = entry
}

// Lookup returns the Entry for code, or ok=false if that chain isn't
// configured in this deployment.
func (r *Registry) Lookup(code Code) (*Entry, bool) {
	entry, ok := r.chains[code]
	return entry, ok
}

// Codes returns every chain currently registered.
func (r *Registry) Codes() []Code {
	codes := make([]Code, 0, len(r.chains))
	for code := range r.chains {
		codes = append(codes, code)
	}
	return codes
}
