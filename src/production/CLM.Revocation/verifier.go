package revocation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logger "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Logger"
	api_models "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Models/api"
)

// Verification outcomes. Every non-nil result means "stay claimed".
var (
	ErrMissingToken      = errors.New("revoke message carried no token")
	ErrTokenConsumed     = errors.New("revocation token already consumed")
	ErrTokenInvalid      = errors.New("revocation token invalid or expired")
	ErrVerifyUnavailable = errors.New("revocation verify endpoint unreachable")
)

// VerifyClient is the synchronous verification callback channel,
// independent of the message bus that delivered the revoke instruction.
type VerifyClient interface {
	VerifyRevocationToken(ctx context.Context, req api_models.VerifyRevocationRequest) (*api_models.VerifyRevocationResponse, error)
}

// Verifier validates server-issued one-time revocation tokens. A token is
// consumed by its first verification attempt regardless of outcome; a
// replayed token value is rejected without another callback. The server
// remains the authority on single-use — the device's job is to treat
// "already consumed" the same as "invalid".
type Verifier struct {
	cloud    VerifyClient
	deviceID string
	timeout  time.Duration
	logger   *logger.Logger

	mu       sync.Mutex
	consumed map[string]time.Time
}

// NewVerifier creates a verifier bound to this device's identity
func NewVerifier(cloud VerifyClient, deviceID string, timeout time.Duration, log *logger.Logger) *Verifier {
	return &Verifier{
		cloud:    cloud,
		deviceID: deviceID,
		timeout:  timeout,
		logger:   log.WithComponent("revocation"),
		consumed: make(map[string]time.Time),
	}
}

// Verify resolves a revoke token to a definite allow/refuse before the
// next event is processed. Only an explicit valid:true from the callback
// permits clearing the credential.
func (v *Verifier) Verify(ctx context.Context, token string) error {
	if token == "" {
		return ErrMissingToken
	}

	if !v.consume(token) {
		v.logger.Logger.Warn().Msg("Replayed revocation token rejected without verification")
		return ErrTokenConsumed
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	resp, err := v.cloud.VerifyRevocationToken(ctx, api_models.VerifyRevocationRequest{
		DeviceID: v.deviceID,
		Token:    token,
	})
	if err != nil {
		v.logger.WithError(err).Warn("Revocation verify callback failed, refusing revocation")
		return fmt.Errorf("%w: %s", ErrVerifyUnavailable, err)
	}
	if !resp.Valid {
		v.logger.Logger.Warn().Str("reason", resp.Reason).Msg("Revocation token refused by verify endpoint")
		if resp.Reason != "" {
			return fmt.Errorf("%w: %s", ErrTokenInvalid, resp.Reason)
		}
		return ErrTokenInvalid
	}
	return nil
}

// consume marks the token used. Returns false if it was already consumed.
func (v *Verifier) consume(token string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, seen := v.consumed[token]; seen {
		return false
	}
	v.consumed[token] = time.Now()

	// Bound the in-memory set; tokens expire server-side long before this
	if len(v.consumed) > 256 {
		cutoff := time.Now().Add(-24 * time.Hour)
		for t, seenAt := range v.consumed {
			if seenAt.Before(cutoff) {
				delete(v.consumed, t)
			}
		}
	}
	return true
}
