package registry

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/questforge/questforge/pkg/utils"
)

// ContractRef names one deployed contract belonging to an application
type ContractRef struct {
	Name    string         `json:"name"`
	Address common.Address `json:"address"`
}

// Entry describes a registered application and its on-chain contract set
type Entry struct {
	AppID       string        `json:"app_id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Category    string        `json:"category"`
	Action      string        `json:"action"`
	Website     string        `json:"website,omitempty"`
	Contracts   []ContractRef `json:"contracts"`
}

// Addresses returns the entry's contract address set
func (e *Entry) Addresses() []common.Address {
	addrs := make([]common.Address, 0, len(e.Contracts))
	for _, c := range e.Contracts {
		addrs = append(addrs, c.Address)
	}
	return addrs
}

// Registry is a read-only lookup of registered applications. Loaded once
// at startup; safe for concurrent use without synchronization.
type Registry struct {
	entries    []*Entry
	byApp      map[string]*Entry
	byContract map[common.Address]*Entry
}

// New builds a registry from the given entries
func New(entries []*Entry) *Registry {
	r := &Registry{
		entries:    entries,
		byApp:      make(map[string]*Entry, len(entries)),
		byContract: make(map[common.Address]*Entry),
	}
	for _, e := range entries {
		r.byApp[e.AppID] = e
		for _, c := range e.Contracts {
			r.byContract[c.Address] = e
		}
	}
	return r
}

// ByAppID looks up an application by its identifier
func (r *Registry) ByAppID(appID string) (*Entry, error) {
	entry, ok := r.byApp[appID]
	if !ok {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Unknown application", appID)
	}
	return entry, nil
}

// FindByContract resolves the application owning a contract address
func (r *Registry) FindByContract(addr common.Address) (*Entry, bool) {
	entry, ok := r.byContract[addr]
	return entry, ok
}

// AllContracts returns every registered contract address
func (r *Registry) AllContracts() []common.Address {
	addrs := make([]common.Address, 0, len(r.byContract))
	for addr := range r.byContract {
		addrs = append(addrs, addr)
	}
	return addrs
}

// Apps returns all registered applications
func (r *Registry) Apps() []*Entry {
	return r.entries
}
