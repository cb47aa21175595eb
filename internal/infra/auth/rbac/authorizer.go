package rbac

import (
	"sort"
	"sync"

	"github.com/permephem/null-sub005/internal/domain"
)

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleSubmitter Role = "submitter"
	RoleMinter    Role = "minter"
)

// Authorizer holds role membership by ledger address. Holders of RoleAdmin
// do not implicitly hold other roles.
type Authorizer struct {
	mu      sync.RWMutex
	members map[Role]map[domain.Address]struct{}
}

func NewAuthorizer() *Authorizer {
	return &Authorizer{members: make(map[Role]map[domain.Address]struct{})}
}

func (a *Authorizer) Grant(role Role, account domain.Address) {
	a.mu.Lock()
	defer a.mu.Unlock()
	set, ok := a.members[role]
	if !ok {
		set = make(map[domain.Address]struct{})
		a.members[role] = set
	}
	set[account] = struct{}{}
}

func (a *Authorizer) Revoke(role Role, account domain.Address) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.members[role], account)
}

func (a *Authorizer) Has(role Role, account domain.Address) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.members[role][account]
	return ok
}

// Require returns an authorization error carrying code when account lacks role.
func (a *Authorizer) Require(role Role, account domain.Address, code string) error {
	if a.Has(role, account) {
		return nil
	}
	return domain.E(domain.ErrAuthorization, code, account.Hex()+" lacks role "+string(role))
}

func (a *Authorizer) Members(role Role) []domain.Address {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]domain.Address, 0, len(a.members[role]))
	for account := range a.members[role] {
		out = append(out, account)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}
