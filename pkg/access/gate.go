package access

import (
	"likegate/pkg/models"
	"likegate/pkg/quota"
)

// Kind classifies a command by the checks it needs.
type Kind string

const (
	// Informational commands (help, status, contact) only need the group check.
	Informational Kind = "informational"
	// Verified commands need a verified user but consume nothing.
	Verified Kind = "verified"
	// QuotaGated commands need every check and may consume quota on success.
	QuotaGated Kind = "quota_gated"
	// OwnerOnly commands are administrative.
	OwnerOnly Kind = "owner_only"
)

func (k Kind) requiresVerification() bool {
	return k == Verified || k == QuotaGated
}

type Reason string

const (
	ReasonNone               Reason = ""
	ReasonOwner              Reason = "OWNER_BYPASS"
	ReasonGroupNotAuthorized Reason = "GROUP_NOT_AUTHORIZED"
	ReasonNotVerified        Reason = "NOT_VERIFIED"
	ReasonQuotaExceeded      Reason = "QUOTA_EXCEEDED"
	ReasonOwnerOnly          Reason = "OWNER_ONLY"
)

// Decision is the admission result. Denials are values, not errors.
type Decision struct {
	Admitted bool   `json:"admitted"`
	Reason   Reason `json:"reason,omitempty"`
	Owner    bool   `json:"owner,omitempty"`
}

func admitted() Decision { return Decision{Admitted: true} }

func denied(r Reason) Decision { return Decision{Admitted: false, Reason: r} }

// Gate composes owners, groups, verification and quota into one admission decision.
// It holds no state of its own.
type Gate struct {
	owners       *Owners
	groups       *Groups
	verification *Verification
	ledger       *quota.Ledger
	observers    []func(scope models.ChatScope, user models.Identity, kind Kind, d Decision)
}

func NewGate(owners *Owners, groups *Groups, verification *Verification, ledger *quota.Ledger) *Gate {
	return &Gate{owners: owners, groups: groups, verification: verification, ledger: ledger}
}

// Observe registers fn to be called with every decision. Register before serving.
func (g *Gate) Observe(fn func(scope models.ChatScope, user models.Identity, kind Kind, d Decision)) {
	if fn != nil {
		g.observers = append(g.observers, fn)
	}
}

// Admit evaluates owner bypass, group authorization, verification and quota in that
// order and stops at the first failure.
func (g *Gate) Admit(scope models.ChatScope, user models.Identity, kind Kind) Decision {
	d := g.evaluate(scope, user, kind)
	for _, fn := range g.observers {
		fn(scope, user, kind, d)
	}
	return d
}

func (g *Gate) evaluate(scope models.ChatScope, user models.Identity, kind Kind) Decision {
	if g.owners.IsOwner(user) {
		return Decision{Admitted: true, Reason: ReasonOwner, Owner: true}
	}
	if scope.IsGroup() && !g.groups.IsAuthorized(scope) {
		return denied(ReasonGroupNotAuthorized)
	}
	if kind == OwnerOnly {
		return denied(ReasonOwnerOnly)
	}
	if kind.requiresVerification() && !g.verification.IsVerified(user) {
		return denied(ReasonNotVerified)
	}
	if kind == QuotaGated {
		if err := g.ledger.TryReserve(user); err != nil {
			return denied(ReasonQuotaExceeded)
		}
	}
	return admitted()
}

func (g *Gate) Owners() *Owners { return g.owners }
