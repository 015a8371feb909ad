package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	api_models "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Models/api"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

// CircuitBreaker implements circuit breaker pattern for resilience
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration
	state        CircuitBreakerState
	failureCount int
	lastFailTime time.Time
	mutex        sync.RWMutex
}

// CloudClient handles communication with the cloud claim API. The
// seamless poll and the revocation verify are deliberately single-shot:
// the poll is retried by the next window tick, and an ambiguous verify
// must fail closed rather than be papered over by retries.
type CloudClient struct {
	baseURL        string
	httpClient     *http.Client
	circuitBreaker *CircuitBreaker
	maxRetries     int
	retryDelay     time.Duration
}

// NewCloudClient creates a new cloud API client
func NewCloudClient(baseURL string, requestTimeout time.Duration) *CloudClient {
	return &CloudClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		circuitBreaker: &CircuitBreaker{
			maxFailures:  5,
			resetTimeout: 30 * time.Second,
			state:        StateClosed,
		},
		maxRetries: 3,
		retryDelay: 1 * time.Second,
	}
}

// Circuit breaker methods
func (cb *CircuitBreaker) canExecute() bool {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		return time.Since(cb.lastFailTime) > cb.resetTimeout
	case StateHalfOpen:
		return true
	default:
		return false
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failureCount = 0
	cb.state = StateClosed
}

func (cb *CircuitBreaker) onFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failureCount++
	cb.lastFailTime = time.Now()

	if cb.failureCount >= cb.maxFailures {
		cb.state = StateOpen
	}
}

// retryWithBackoff executes a function with exponential backoff retry logic
func (c *CloudClient) retryWithBackoff(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if !c.circuitBreaker.canExecute() {
			return fmt.Errorf("circuit breaker is open")
		}

		err := operation()
		if err == nil {
			c.circuitBreaker.onSuccess()
			return nil
		}

		lastErr = err
		c.circuitBreaker.onFailure()

		if attempt == c.maxRetries {
			break
		}

		delay := time.Duration(float64(c.retryDelay) * math.Pow(2, float64(attempt)))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
			// Continue to next attempt
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// NotifyClaimingStarted announces an opened claiming window. Fire and
// forget: a failure is the caller's to log, never to act on.
func (c *CloudClient) NotifyClaimingStarted(ctx context.Context, req api_models.NotifyClaimingRequest) error {
	resp, err := c.makeRequest(ctx, "POST", "/api/v1/devices/claiming-started", req)
	if err != nil {
		return fmt.Errorf("failed to notify claiming started: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("cloud API returned status %d", resp.StatusCode)
	}
	return nil
}

// PollCheckIn performs one seamless-protocol poll. A nil payload with a
// nil error means "not yet claimed"; the caller polls again on the next
// tick. Single attempt per call.
func (c *CloudClient) PollCheckIn(ctx context.Context, req api_models.CheckInRequest) (*api_models.ClaimCompletionPayload, error) {
	resp, err := c.makeRequest(ctx, "POST", "/api/v1/devices/checkin", req)
	if err != nil {
		return nil, fmt.Errorf("check-in poll failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cloud API returned status %d", resp.StatusCode)
	}

	var response api_models.CheckInResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode check-in response: %w", err)
	}
	if response.Error != "" {
		return nil, fmt.Errorf("cloud API error: %s", response.Error)
	}
	if !response.Claimed {
		return nil, nil
	}
	if response.Credential == nil {
		return nil, fmt.Errorf("check-in response claims success without a credential")
	}
	return response.Credential, nil
}

// SubmitClaimCode exchanges a human-entered claim code for a credential
// payload. Retried with backoff; the grant is idempotent server-side.
func (c *CloudClient) SubmitClaimCode(ctx context.Context, req api_models.ManualClaimRequest) (*api_models.ClaimCompletionPayload, error) {
	var payload *api_models.ClaimCompletionPayload

	err := c.retryWithBackoff(ctx, func() error {
		resp, err := c.makeRequest(ctx, "POST", "/api/v1/devices/claim-code", req)
		if err != nil {
			return fmt.Errorf("failed to submit claim code: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("cloud API returned status %d: %s", resp.StatusCode, string(body))
		}

		var response api_models.ManualClaimResponse
		if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
			return fmt.Errorf("failed to decode claim-code response: %w", err)
		}
		if !response.Success {
			if response.Error != "" {
				return fmt.Errorf("cloud API error: %s", response.Error)
			}
			return fmt.Errorf("claim code not accepted")
		}
		if response.Credential == nil {
			return fmt.Errorf("claim-code grant missing credential")
		}
		payload = response.Credential
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// VerifyRevocationToken performs the device-initiated verification
// callback. Single attempt: any failure here must resolve to "stay
// claimed" at the caller, not to a retry that might mask a spoof.
func (c *CloudClient) VerifyRevocationToken(ctx context.Context, req api_models.VerifyRevocationRequest) (*api_models.VerifyRevocationResponse, error) {
	resp, err := c.makeRequest(ctx, "POST", "/api/v1/devices/verify-revocation", req)
	if err != nil {
		return nil, fmt.Errorf("revocation verify call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cloud API returned status %d", resp.StatusCode)
	}

	var response api_models.VerifyRevocationResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode verify response: %w", err)
	}
	return &response, nil
}

// NotifyUnclaimed reports a local credential clear. Best effort with
// retries; the clear is never rolled back on failure.
func (c *CloudClient) NotifyUnclaimed(ctx context.Context, notice api_models.UnclaimNotice) error {
	return c.retryWithBackoff(ctx, func() error {
		resp, err := c.makeRequest(ctx, "POST", "/api/v1/devices/unclaimed", notice)
		if err != nil {
			return fmt.Errorf("failed to notify unclaim: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
			return fmt.Errorf("cloud API returned status %d", resp.StatusCode)
		}
		return nil
	})
}

// makeRequest makes an HTTP request to the cloud API
func (c *CloudClient) makeRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "mpt-claim-agent")

	return c.httpClient.Do(req)
}

// GetCircuitBreakerStatus returns the current circuit breaker status for monitoring
func (c *CloudClient) GetCircuitBreakerStatus() map[string]interface{} {
	c.circuitBreaker.mutex.RLock()
	defer c.circuitBreaker.mutex.RUnlock()

	stateStr := "unknown"
	switch c.circuitBreaker.state {
	case StateClosed:
		stateStr = "closed"
	case StateOpen:
		stateStr = "open"
	case StateHalfOpen:
		stateStr = "half-open"
	}

	return map[string]interface{}{
		"state":         stateStr,
		"failure_count": c.circuitBreaker.failureCount,
		"max_failures":  c.circuitBreaker.maxFailures,
		"reset_timeout": c.circuitBreaker.resetTimeout,
	}
}
