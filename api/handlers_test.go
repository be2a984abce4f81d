/*
handlers_test.go - HTTP-level tests for the API

Tests drive the full router over httptest with the in-memory store, so
routing, JSON shapes, and status mapping are all covered together.
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/booking-engine/engine"
	memstore "github.com/warp/booking-engine/engine/store"
)

// newTestServer wires a handler over a fresh in-memory store.
func newTestServer(t *testing.T) (*httptest.Server, *Handler) {
	t.Helper()
	h := NewHandler(memstore.NewMemory(), engine.NopPublisher{})
	srv := httptest.NewServer(NewRouter(h))
	t.Cleanup(srv.Close)
	return srv, h
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func createShowing(t *testing.T, base string, id string, capacity int) {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, base+"/api/showings", CreateShowingRequest{
		ID:       id,
		Name:     "Test Showing",
		StartsAt: time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
		Capacity: capacity,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
}

func createReservation(t *testing.T, base, showing, email string, party int) ReservationDTO {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, base+"/api/reservations", CreateReservationRequest{
		ShowingID: showing, Email: email, PartySize: party, Actor: "test",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var dto ReservationDTO
	require.NoError(t, json.Unmarshal(body, &dto))
	return dto
}

// =============================================================================
// RESERVATION LIFECYCLE
// =============================================================================

func TestReservationLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	createShowing(t, srv.URL, "show-1", 10)

	// GIVEN a pending reservation
	res := createReservation(t, srv.URL, "show-1", "alice@example.com", 4)
	require.Equal(t, "pending", res.Status)
	require.Equal(t, "pending", res.PaymentStatus)

	// WHEN it is confirmed
	resp, body := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/reservations/%s/transition", srv.URL, res.ID),
		TransitionRequest{Status: "confirmed", Actor: "box-office"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var confirmed ReservationDTO
	require.NoError(t, json.Unmarshal(body, &confirmed))

	// THEN it carries a payment due date and a log trail
	require.Equal(t, "confirmed", confirmed.Status)
	require.NotNil(t, confirmed.PaymentDueAt)
	require.NotEmpty(t, confirmed.Log)

	// AND availability reflects the held seats
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/showings/show-1/availability", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var avail AvailabilityDTO
	require.NoError(t, json.Unmarshal(body, &avail))
	require.Equal(t, 6, avail.Remaining)
}

func TestCreateReservationRejectsOverCapacity(t *testing.T) {
	srv, _ := newTestServer(t)
	createShowing(t, srv.URL, "show-small", 3)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/reservations", CreateReservationRequest{
		ShowingID: "show-small", Email: "big@example.com", PartySize: 5, Actor: "test",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode, string(body))

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	require.NotEmpty(t, errResp.Error)
}

func TestForceOverbooking(t *testing.T) {
	srv, _ := newTestServer(t)
	createShowing(t, srv.URL, "show-full", 2)

	// Force allows exceeding capacity; remaining goes negative.
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/reservations", CreateReservationRequest{
		ShowingID: "show-full", Email: "vip@example.com", PartySize: 4, Actor: "manager", Force: true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/showings/show-full/availability", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var avail AvailabilityDTO
	require.NoError(t, json.Unmarshal(body, &avail))
	require.Equal(t, -2, avail.Remaining)
}

func TestInvalidTransitionReturnsConflict(t *testing.T) {
	srv, _ := newTestServer(t)
	createShowing(t, srv.URL, "show-1", 10)
	res := createReservation(t, srv.URL, "show-1", "bob@example.com", 2)

	// pending -> checked_in skips confirmation
	resp, body := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/reservations/%s/transition", srv.URL, res.ID),
		TransitionRequest{Status: "checked_in", Actor: "usher"})
	require.Equal(t, http.StatusConflict, resp.StatusCode, string(body))
}

func TestGetMissingReservationReturns404(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/reservations/res-nope", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// NO-SHOW AND BLOCKING
// =============================================================================

func TestNoShowBlocksRepeatOffender(t *testing.T) {
	srv, h := newTestServer(t)
	h.Trust.Threshold = 2
	createShowing(t, srv.URL, "show-1", 20)

	markNoShow := func(id string) NoShowResponse {
		resp, body := doJSON(t, http.MethodPost,
			fmt.Sprintf("%s/api/reservations/%s/no-show", srv.URL, id),
			NoShowRequest{Actor: "usher", Reason: "empty seats"})
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		var out NoShowResponse
		require.NoError(t, json.Unmarshal(body, &out))
		return out
	}
	confirm := func(id string) {
		resp, body := doJSON(t, http.MethodPost,
			fmt.Sprintf("%s/api/reservations/%s/transition", srv.URL, id),
			TransitionRequest{Status: "confirmed", Actor: "box-office"})
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	}

	// First no-show: no block yet
	first := createReservation(t, srv.URL, "show-1", "flaky@example.com", 2)
	confirm(first.ID)
	out := markNoShow(first.ID)
	require.False(t, out.Blocked)

	// Second no-show crosses the threshold
	second := createReservation(t, srv.URL, "show-1", "flaky@example.com", 2)
	confirm(second.ID)
	out = markNoShow(second.ID)
	require.True(t, out.Blocked)

	// Blocked customer is refused new bookings
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/reservations", CreateReservationRequest{
		ShowingID: "show-1", Email: "flaky@example.com", PartySize: 1, Actor: "web",
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode, string(body))

	// Block record is queryable
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/customers/flaky@example.com/block", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var block BlockDTO
	require.NoError(t, json.Unmarshal(body, &block))
	require.Equal(t, 2, block.NoShowCount)

	// Unblock clears it
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/customers/flaky@example.com/unblock",
		UnblockRequest{Actor: "manager", Reason: "apologized"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/customers/flaky@example.com/block", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDoubleNoShowReturnsConflict(t *testing.T) {
	srv, _ := newTestServer(t)
	createShowing(t, srv.URL, "show-1", 10)
	res := createReservation(t, srv.URL, "show-1", "once@example.com", 2)

	resp, body := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/reservations/%s/transition", srv.URL, res.ID),
		TransitionRequest{Status: "confirmed", Actor: "box-office"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, _ = doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/reservations/%s/no-show", srv.URL, res.ID),
		NoShowRequest{Actor: "usher"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/reservations/%s/no-show", srv.URL, res.ID),
		NoShowRequest{Actor: "usher"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

// =============================================================================
// SWEEPS
// =============================================================================

func TestOptionSweepEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	createShowing(t, srv.URL, "show-1", 10)

	// GIVEN an option hold already past expiry
	stale := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/reservations", CreateReservationRequest{
		ShowingID: "show-1", Email: "holder@example.com", PartySize: 3,
		Status: "option", OptionExpiresAt: &stale, Actor: "phone",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	// WHEN the sweep runs
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/sweeps/options", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var rep SweepReportDTO
	require.NoError(t, json.Unmarshal(body, &rep))

	// THEN the hold is cancelled and its seats come back
	require.Equal(t, 1, rep.Applied)
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/showings/show-1/availability", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var avail AvailabilityDTO
	require.NoError(t, json.Unmarshal(body, &avail))
	require.Equal(t, 10, avail.Remaining)
}

// =============================================================================
// VOUCHERS
// =============================================================================

func TestVoucherIssueValidateApply(t *testing.T) {
	srv, _ := newTestServer(t)
	createShowing(t, srv.URL, "show-1", 10)
	res := createReservation(t, srv.URL, "show-1", "carol@example.com", 2)

	// Issue
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/vouchers", IssueVoucherRequest{
		Value: decimal.NewFromInt(50), ValidDays: 30, Recipient: "carol@example.com",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var v VoucherDTO
	require.NoError(t, json.Unmarshal(body, &v))
	require.Equal(t, "active", v.Status)
	require.Len(t, v.Code, 14) // XXXX-XXXX-XXXX

	// Validate
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/vouchers/"+v.Code+"/validate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var val ValidationDTO
	require.NoError(t, json.Unmarshal(body, &val))
	require.Equal(t, "valid", val.State)

	// Apply more than remaining: capped at the balance
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/vouchers/"+v.Code+"/apply",
		ApplyVoucherRequest{Amount: decimal.NewFromInt(80), ReservationID: res.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var applied ApplyVoucherResponse
	require.NoError(t, json.Unmarshal(body, &applied))
	require.True(t, applied.Applied.Equal(decimal.NewFromInt(50)))
	require.True(t, applied.Remaining.IsZero())

	// A drained voucher no longer validates
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/vouchers/"+v.Code+"/validate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &val))
	require.Equal(t, "used", val.State)
}

func TestUnknownVoucherValidatesAsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/vouchers/XXXX-XXXX-XXXX-XXXX/validate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var val ValidationDTO
	require.NoError(t, json.Unmarshal(body, &val))
	require.Equal(t, "not_found", val.State)
}

// =============================================================================
// OVERRIDES AND AUDIT
// =============================================================================

func TestCapacityOverrideLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	createShowing(t, srv.URL, "show-1", 20)
	createReservation(t, srv.URL, "show-1", "dan@example.com", 5)

	// Apply: capacity shrinks, remaining follows
	resp, body := doJSON(t, http.MethodPut, srv.URL+"/api/showings/show-1/override",
		OverrideRequest{Capacity: 10, Reason: "balcony closed"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var o OverrideDTO
	require.NoError(t, json.Unmarshal(body, &o))
	require.Equal(t, 20, o.OriginalCapacity)
	require.Equal(t, 10, o.OverrideCapacity)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/showings/show-1/availability", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var avail AvailabilityDTO
	require.NoError(t, json.Unmarshal(body, &avail))
	require.Equal(t, 5, avail.Remaining)

	// Clear: original capacity restored
	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/showings/show-1/override", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/showings/show-1/availability", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &avail))
	require.Equal(t, 15, avail.Remaining)
}

func TestAuditFindsAndFixesDrift(t *testing.T) {
	srv, h := newTestServer(t)
	createShowing(t, srv.URL, "show-1", 10)
	createReservation(t, srv.URL, "show-1", "erin@example.com", 3)

	// Corrupt the counter behind the engine's back
	require.NoError(t, h.Store.UpdateShowing(context.Background(), "show-1", func(sh *engine.Showing) error {
		sh.Remaining = 2
		return nil
	}))

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/audit", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var rep AuditReportDTO
	require.NoError(t, json.Unmarshal(body, &rep))
	require.Equal(t, 1, rep.Errors)
	require.Equal(t, 1, rep.Fixable)

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/audit/fix-all", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var fixed FixAllResultDTO
	require.NoError(t, json.Unmarshal(body, &fixed))
	require.Equal(t, 1, fixed.Fixed)
	require.NotNil(t, fixed.After)
	require.Empty(t, fixed.After.Issues)
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenariosLoadAndReset(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/scenarios", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []ScenarioDTO
	require.NoError(t, json.Unmarshal(body, &list))
	require.NotEmpty(t, list)

	for _, s := range list {
		resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/scenarios/load",
			LoadScenarioRequest{ID: s.ID})
		require.Equal(t, http.StatusOK, resp.StatusCode,
			"scenario %s: %s", s.ID, string(body))
	}

	// Reset empties the store
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/showings", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var showings []ShowingDTO
	require.NoError(t, json.Unmarshal(body, &showings))
	require.Empty(t, showings)
}
