package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	api_models "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Models/api"
)

func grantPayload() *api_models.ClaimCompletionPayload {
	return &api_models.ClaimCompletionPayload{
		DeviceID:       "d1",
		DeviceName:     "Kitchen",
		TenantID:       "t1",
		BrokerClientID: "AA11",
		BrokerUsername: "AA11",
		BrokerPassword: "p",
		BrokerHost:     "10.0.0.5",
		BrokerPort:     1883,
	}
}

func TestPollCheckInPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/devices/checkin" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req api_models.CheckInRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.DeviceID != "AA11" {
			t.Errorf("device_id = %q, want AA11", req.DeviceID)
		}
		json.NewEncoder(w).Encode(api_models.CheckInResponse{Claimed: false})
	}))
	defer srv.Close()

	c := NewCloudClient(srv.URL, 5*time.Second)
	payload, err := c.PollCheckIn(context.Background(), api_models.CheckInRequest{DeviceID: "AA11", SessionID: "s1"})
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if payload != nil {
		t.Fatalf("pending poll returned a payload: %+v", payload)
	}
}

func TestPollCheckInGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api_models.CheckInResponse{Claimed: true, Credential: grantPayload()})
	}))
	defer srv.Close()

	c := NewCloudClient(srv.URL, 5*time.Second)
	payload, err := c.PollCheckIn(context.Background(), api_models.CheckInRequest{DeviceID: "AA11", SessionID: "s1"})
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if payload == nil || payload.DeviceID != "d1" {
		t.Fatalf("payload = %+v, want grant for d1", payload)
	}
}

func TestPollCheckInClaimedWithoutCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api_models.CheckInResponse{Claimed: true})
	}))
	defer srv.Close()

	c := NewCloudClient(srv.URL, 5*time.Second)
	if _, err := c.PollCheckIn(context.Background(), api_models.CheckInRequest{DeviceID: "AA11"}); err == nil {
		t.Fatal("claimed response without credential accepted")
	}
}

func TestSubmitClaimCodeRetries(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(api_models.ManualClaimResponse{Success: true, Credential: grantPayload()})
	}))
	defer srv.Close()

	c := NewCloudClient(srv.URL, 5*time.Second)
	c.retryDelay = time.Millisecond
	payload, err := c.SubmitClaimCode(context.Background(), api_models.ManualClaimRequest{DeviceID: "AA11", ClaimCode: "1234"})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if payload == nil || payload.TenantID != "t1" {
		t.Fatalf("payload = %+v, want grant for t1", payload)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestSubmitClaimCodeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api_models.ManualClaimResponse{Success: false, Error: "unknown claim code"})
	}))
	defer srv.Close()

	c := NewCloudClient(srv.URL, 5*time.Second)
	c.retryDelay = time.Millisecond
	if _, err := c.SubmitClaimCode(context.Background(), api_models.ManualClaimRequest{DeviceID: "AA11", ClaimCode: "0000"}); err == nil {
		t.Fatal("rejected claim code accepted")
	}
}

func TestVerifyRevocationTokenSingleAttempt(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewCloudClient(srv.URL, 5*time.Second)
	if _, err := c.VerifyRevocationToken(context.Background(), api_models.VerifyRevocationRequest{DeviceID: "AA11", Token: "tok"}); err == nil {
		t.Fatal("failed verify reported success")
	}
	if attempts != 1 {
		t.Errorf("verify attempted %d times, want exactly 1", attempts)
	}
}

func TestVerifyRevocationTokenInvalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api_models.VerifyRevocationResponse{Valid: false, Reason: "expired"})
	}))
	defer srv.Close()

	c := NewCloudClient(srv.URL, 5*time.Second)
	resp, err := c.VerifyRevocationToken(context.Background(), api_models.VerifyRevocationRequest{DeviceID: "AA11", Token: "tok"})
	if err != nil {
		t.Fatalf("verify call failed: %v", err)
	}
	if resp.Valid {
		t.Fatal("expired token reported valid")
	}
	if resp.Reason != "expired" {
		t.Errorf("reason = %q, want expired", resp.Reason)
	}
}
