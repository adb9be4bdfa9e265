package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jrsteele09/keyconsole/backend"
	apperrors "github.com/jrsteele09/keyconsole/internal/errors"
	"github.com/rs/zerolog/log"
)

// maxAttempts is how many times one probe may be sent when the backend cannot
// be reached: the first call plus one retry.
const maxAttempts = 2

// Backend is the part of the backend API the classifier probes.
type Backend interface {
	Me(ctx context.Context, credential string) (*backend.Identity, error)
	ListEnvironments(ctx context.Context, credential string) ([]backend.Environment, error)
	GetEnvironment(ctx context.Context, credential string) (*backend.Environment, error)
	UpdateEnvironment(ctx context.Context, credential string, req backend.UpdateEnvironmentRequest) error
}

// Recorder receives classification telemetry. *metrics.Metrics implements it.
type Recorder interface {
	ClassificationCompleted(outcome string)
	ProbeAttempted(probe, result string)
}

type Classifier struct {
	probes   []probe
	recorder Recorder
}

type ClassifierOption func(*Classifier)

func WithRecorder(r Recorder) ClassifierOption {
	return func(c *Classifier) {
		c.recorder = r
	}
}

func NewClassifier(b Backend, options ...ClassifierOption) *Classifier {
	c := &Classifier{probes: defaultProbes(b)}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Classify determines the tier of credential and, for scoped tiers, the
// environment it is bound to.
//
// Probes run one after another and the first decisive or rejecting answer
// ends the cascade. A probe that cannot reach the backend is sent once more;
// a second failure returns errors.ErrBackendUnavailable. The backend's
// authorization rejections are interpreted, never retried.
func (c *Classifier) Classify(ctx context.Context, credential string) (KeyInfo, error) {
	if strings.TrimSpace(credential) == "" {
		c.completed(outcomeLabel(apperrors.ErrInvalidCredential))
		return KeyInfo{}, apperrors.ErrInvalidCredential
	}

	state := &cascade{credential: credential}
	for _, p := range c.probes {
		out, err := c.attempt(ctx, p, state)
		if err != nil {
			c.completed(outcomeLabel(err))
			return KeyInfo{}, err
		}

		switch out.verdict {
		case decisive:
			log.Debug().Str("credential", Mask(credential)).Str("probe", p.name).Str("tier", out.info.Tier.String()).Msg("Credential classified")
			c.completed(out.info.Tier.String())
			return out.info, nil
		case rejected:
			log.Debug().Str("credential", Mask(credential)).Str("probe", p.name).Err(out.reason).Msg("Credential rejected")
			c.completed(outcomeLabel(out.reason))
			return KeyInfo{}, out.reason
		}
	}

	c.completed(outcomeLabel(apperrors.ErrInsufficientSignal))
	return KeyInfo{}, apperrors.ErrInsufficientSignal
}

func (c *Classifier) attempt(ctx context.Context, p probe, state *cascade) (outcome, error) {
	var lastErr error
	for try := 1; try <= maxAttempts; try++ {
		if err := ctx.Err(); err != nil {
			return outcome{}, fmt.Errorf("classification abandoned: %w", err)
		}

		out, err := p.run(ctx, state)
		if err == nil {
			c.probed(p.name, out.verdict.String())
			return out, nil
		}
		c.probed(p.name, "unavailable")

		if ctxErr := ctx.Err(); ctxErr != nil {
			return outcome{}, fmt.Errorf("classification abandoned: %w", ctxErr)
		}
		lastErr = err
		log.Warn().Str("probe", p.name).Int("attempt", try).Err(err).Msg("Backend probe failed")
	}
	return outcome{}, lastErr
}

func (c *Classifier) completed(outcome string) {
	if c.recorder != nil {
		c.recorder.ClassificationCompleted(outcome)
	}
}

func (c *Classifier) probed(name, result string) {
	if c.recorder != nil {
		c.recorder.ProbeAttempted(name, result)
	}
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrInvalidCredential):
		return "invalid_credential"
	case errors.Is(err, apperrors.ErrInsufficientSignal):
		return "insufficient_signal"
	case errors.Is(err, apperrors.ErrBackendUnavailable):
		return "backend_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "abandoned"
	}
	return "error"
}
