package httpapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	reconcile "github.com/xraph/reconcile"
	"github.com/xraph/reconcile/httpapi"
	"github.com/xraph/reconcile/id"
	"github.com/xraph/reconcile/provider"
	"github.com/xraph/reconcile/store/memory"
	"github.com/xraph/reconcile/types"
	"github.com/xraph/reconcile/workspace"
)

func newServer(t *testing.T) (*httpapi.Server, id.WorkspaceID) {
	t.Helper()
	ctx := context.Background()

	s := memory.New()
	userID := id.NewUserID()
	wsID := id.NewWorkspaceID()
	if err := s.PutWorkspace(ctx, &workspace.Workspace{
		Entity:      types.NewEntity(),
		ID:          wsID,
		Name:        "studio",
		OwnerUserID: userID,
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutUser(ctx, &workspace.User{
		Entity:            types.NewEntity(),
		ID:                userID,
		Email:             "owner@example.com",
		ActiveWorkspaceID: wsID,
	}); err != nil {
		t.Fatal(err)
	}

	prov := provider.NewFake()
	prov.PutSubscription(&provider.Subscription{
		ID:      "sub_1",
		Status:  "active",
		PriceID: "price_pro_monthly",
	})

	eng := reconcile.New(s, reconcile.WithProvider(prov))
	if err := eng.Start(ctx); err != nil {
		t.Fatal(err)
	}

	return httpapi.New(":0", eng), wsID
}

func TestHandleWebhook(t *testing.T) {
	srv, wsID := newServer(t)

	payload := `{
		"id": "evt_wh_1",
		"type": "customer.subscription.updated",
		"data": {"object": {"id": "sub_1", "status": "active", "metadata": {"workspace_id": "` + wsID.String() + `"}}}
	}`

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/billing", strings.NewReader(payload)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var res reconcile.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if !res.OK || res.Plan != "pro" {
		t.Errorf("result = %+v, want OK pro", res)
	}

	// Redelivery is absorbed as a duplicate.
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/billing", strings.NewReader(payload)))
	if rec.Code != http.StatusOK {
		t.Fatalf("redelivery status = %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if !res.Deduped {
		t.Errorf("redelivery result = %+v, want deduped", res)
	}
}

func TestHandleWebhookInvalidPayload(t *testing.T) {
	srv, _ := newServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/billing", strings.NewReader("{not json")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	// Missing event id maps to a bad request, not a 500.
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/billing",
		strings.NewReader(`{"type": "customer.subscription.updated", "data": {"object": {"id": "sub_1"}}}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing id status = %d, want 400", rec.Code)
	}
}

func TestHandleReconcile(t *testing.T) {
	srv, wsID := newServer(t)

	body := `{
		"correlation_id": "support-1",
		"subscription_id": "sub_1",
		"meta": {"workspace_id": "` + wsID.String() + `"}
	}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reconcile", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var res reconcile.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if !res.OK || res.WorkspaceID != wsID {
		t.Errorf("result = %+v, want OK for %s", res, wsID)
	}

	// Validation failures come back as 400.
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reconcile",
		strings.NewReader(`{"subscription_id": "sub_1"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing correlation id status = %d, want 400", rec.Code)
	}

	// Unknown fields are rejected.
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reconcile",
		strings.NewReader(`{"correlation_id": "x", "subscription_id": "sub_1", "bogus": true}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown field status = %d, want 400", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "OK" {
		t.Errorf("body = %q, want OK", rec.Body.String())
	}
}
