package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/jrsteele09/keyconsole/backend"
	apperrors "github.com/jrsteele09/keyconsole/internal/errors"
	"github.com/jrsteele09/keyconsole/internal/utils"
)

// Probe names, also used as metric labels.
const (
	ProbeSelfDescribe = "self_describe"
	ProbeListAll      = "list_all"
	ProbeReadScope    = "read_scope"
	ProbeWriteScope   = "write_scope"
)

type verdict int

const (
	inconclusive verdict = iota
	decisive
	rejected
)

func (v verdict) String() string {
	switch v {
	case decisive:
		return "decisive"
	case rejected:
		return "rejected"
	}
	return "inconclusive"
}

type outcome struct {
	verdict verdict
	info    KeyInfo
	reason  error
}

// cascade carries what earlier probes learned to later ones.
type cascade struct {
	credential string
	scope      *backend.Environment
}

// probe sends one backend call and interprets the answer. A non-nil error
// means the backend could not be reached and the call may be sent again.
type probe struct {
	name string
	run  func(ctx context.Context, s *cascade) (outcome, error)
}

func defaultProbes(b Backend) []probe {
	return []probe{
		{name: ProbeSelfDescribe, run: selfDescribe(b)},
		{name: ProbeListAll, run: listAll(b)},
		{name: ProbeReadScope, run: readScope(b)},
		{name: ProbeWriteScope, run: writeScope(b)},
	}
}

func unreachable(err error) bool {
	return errors.Is(err, apperrors.ErrBackendUnavailable)
}

func selfDescribe(b Backend) func(context.Context, *cascade) (outcome, error) {
	return func(ctx context.Context, s *cascade) (outcome, error) {
		id, err := b.Me(ctx, s.credential)
		if unreachable(err) {
			return outcome{}, err
		}
		if err != nil {
			return outcome{verdict: inconclusive}, nil
		}

		tier, err := ParseTier(id.KeyType)
		if err != nil {
			return outcome{verdict: inconclusive}, nil
		}
		info := KeyInfo{Tier: tier}
		if tier.IsScoped() {
			info.ScopeID = utils.Clone(id.EnvironmentID)
		}
		if info.Validate() != nil {
			return outcome{verdict: inconclusive}, nil
		}
		return outcome{verdict: decisive, info: info}, nil
	}
}

func listAll(b Backend) func(context.Context, *cascade) (outcome, error) {
	return func(ctx context.Context, s *cascade) (outcome, error) {
		_, err := b.ListEnvironments(ctx, s.credential)
		if unreachable(err) {
			return outcome{}, err
		}
		if err != nil {
			return outcome{verdict: inconclusive}, nil
		}
		return outcome{verdict: decisive, info: KeyInfo{Tier: TierTop}}, nil
	}
}

func readScope(b Backend) func(context.Context, *cascade) (outcome, error) {
	return func(ctx context.Context, s *cascade) (outcome, error) {
		env, err := b.GetEnvironment(ctx, s.credential)
		switch {
		case unreachable(err):
			return outcome{}, err
		case backend.IsAuthorizationRejection(err):
			return outcome{verdict: rejected, reason: apperrors.ErrInvalidCredential}, nil
		case err != nil:
			return outcome{verdict: rejected, reason: fmt.Errorf("%w: reading scope: %w", apperrors.ErrInsufficientSignal, err)}, nil
		}
		s.scope = env
		return outcome{verdict: inconclusive}, nil
	}
}

// writeScope renames the scope to its current name. The backend lets only
// scoped admins write, so the answer separates them from read-only keys
// without changing anything.
func writeScope(b Backend) func(context.Context, *cascade) (outcome, error) {
	return func(ctx context.Context, s *cascade) (outcome, error) {
		if s.scope == nil {
			return outcome{verdict: rejected, reason: fmt.Errorf("%w: scope unknown", apperrors.ErrInsufficientSignal)}, nil
		}

		scopeID := s.scope.ID
		err := b.UpdateEnvironment(ctx, s.credential, backend.UpdateEnvironmentRequest{Name: s.scope.Name})
		switch {
		case unreachable(err):
			return outcome{}, err
		case backend.IsAuthorizationRejection(err):
			return outcome{verdict: decisive, info: KeyInfo{Tier: TierScopedReadOnly, ScopeID: &scopeID}}, nil
		case err != nil:
			return outcome{verdict: rejected, reason: fmt.Errorf("%w: writing scope: %w", apperrors.ErrInsufficientSignal, err)}, nil
		}
		return outcome{verdict: decisive, info: KeyInfo{Tier: TierScopedAdmin, ScopeID: &scopeID}}, nil
	}
}
