package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"estately/api/internal/session"
	"estately/api/internal/store"
)

// offerMarket is a small in-memory marketplace behind fakeStore so offer
// flows can be driven end to end through the HTTP handler.
type offerMarket struct {
	mu            sync.Mutex
	properties    map[int64]store.Property
	offers        map[int64]store.Offer
	notifications []store.Notification
	nextOfferID   int64
}

func newOfferMarket() (*offerMarket, *fakeStore) {
	m := &offerMarket{
		properties: map[int64]store.Property{
			10: {ID: 10, SellerID: testSeller.ID, Title: "Harbour Loft", Price: 450000, Status: store.PropertyAvailable},
			11: {ID: 11, SellerID: testSeller.ID, Title: "Old Mill", Price: 300000, Status: store.PropertySold},
		},
		offers:      map[int64]store.Offer{},
		nextOfferID: 100,
	}
	fs := newFakeStore()
	fs.getPropertyFn = func(_ context.Context, id int64) (store.Property, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		p, ok := m.properties[id]
		if !ok {
			return store.Property{}, sql.ErrNoRows
		}
		return p, nil
	}
	fs.getOfferFn = func(_ context.Context, id int64) (store.Offer, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		o, ok := m.offers[id]
		if !ok {
			return store.Offer{}, sql.ErrNoRows
		}
		return o, nil
	}
	fs.createOfferFn = func(_ context.Context, offer store.Offer, n store.Notification) (store.Offer, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.properties[offer.PropertyID].Status == store.PropertySold {
			return store.Offer{}, store.ErrConflict
		}
		m.nextOfferID++
		offer.ID = m.nextOfferID
		offer.Status = store.OfferPending
		offer.Version = 1
		offer.CreatedAt = time.Now()
		m.offers[offer.ID] = offer
		m.notifications = append(m.notifications, n)
		return offer, nil
	}
	fs.applyOfferTransitionFn = func(_ context.Context, tr store.OfferTransition) (store.Offer, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		offer, ok := m.offers[tr.OfferID]
		if !ok {
			return store.Offer{}, sql.ErrNoRows
		}
		if offer.Version != tr.ExpectedVersion || offer.Status == store.OfferAccepted || offer.Status == store.OfferRejected {
			return store.Offer{}, store.ErrConflict
		}
		if tr.Status == store.OfferAccepted {
			for _, other := range m.offers {
				if other.PropertyID == offer.PropertyID && other.Status == store.OfferAccepted {
					return store.Offer{}, store.ErrConflict
				}
			}
			property := m.properties[offer.PropertyID]
			property.Status = store.PropertyUnderOffer
			m.properties[offer.PropertyID] = property
		}
		offer.Status = tr.Status
		offer.Amount = tr.Amount
		offer.Version++
		m.offers[offer.ID] = offer
		m.notifications = append(m.notifications, tr.Notification)
		return offer, nil
	}
	return m, fs
}

func (m *offerMarket) seedOffer(propertyID, buyerID int64, amount float64, status string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextOfferID++
	m.offers[m.nextOfferID] = store.Offer{
		ID:         m.nextOfferID,
		PropertyID: propertyID,
		BuyerID:    buyerID,
		SellerID:   m.properties[propertyID].SellerID,
		Amount:     amount,
		Status:     status,
		Version:    1,
	}
	return m.nextOfferID
}

func (m *offerMarket) offer(id int64) store.Offer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offers[id]
}

func (m *offerMarket) notificationsFor(userID int64) []store.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Notification
	for _, n := range m.notifications {
		if n.RecipientID == userID {
			out = append(out, n)
		}
	}
	return out
}

func newMarketServer(t *testing.T) (*offerMarket, *Service, *HTTPServer, *fakeSearch) {
	t.Helper()
	m, fs := newOfferMarket()
	svc := newTestService(fs)
	searcher := &fakeSearch{}
	svc.search = searcher
	svc.idempotency = session.NewMemoryIdempotency(time.Minute)
	return m, svc, NewHTTPServer(svc, "*"), searcher
}

func TestCreateOfferNotifiesSeller(t *testing.T) {
	m, svc, server, _ := newMarketServer(t)
	token := tokenFor(t, svc, testBuyer)

	rr, payload := doJSON(t, server, http.MethodPost, "/api/properties/10/offers", token,
		`{"amount":425000,"message":"Flexible on dates"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload["status"] != store.OfferPending || payload["amount"] != float64(425000) {
		t.Fatalf("unexpected offer payload: %v", payload)
	}

	notes := m.notificationsFor(testSeller.ID)
	if len(notes) != 1 {
		t.Fatalf("expected one seller notification, got %d", len(notes))
	}
	if notes[0].Type != store.NotificationOfferReceived {
		t.Fatalf("expected offer_received, got %q", notes[0].Type)
	}
	if !strings.Contains(notes[0].Message, "Bea Buyer made an offer of $425000.00 on Harbour Loft") {
		t.Fatalf("unexpected notification text %q", notes[0].Message)
	}
}

func TestCreateOfferRejections(t *testing.T) {
	cases := []struct {
		name   string
		user   store.User
		path   string
		body   string
		status int
	}{
		{"missing amount", testBuyer, "/api/properties/10/offers", `{}`, http.StatusBadRequest},
		{"zero amount", testBuyer, "/api/properties/10/offers", `{"amount":0}`, http.StatusBadRequest},
		{"unknown property", testBuyer, "/api/properties/999/offers", `{"amount":10}`, http.StatusNotFound},
		{"sold property", testBuyer, "/api/properties/11/offers", `{"amount":10}`, http.StatusConflict},
		{"seller role", testOther, "/api/properties/10/offers", `{"amount":10}`, http.StatusForbidden},
		{"bad id", testBuyer, "/api/properties/abc/offers", `{"amount":10}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, svc, server, _ := newMarketServer(t)
			rr, _ := doJSON(t, server, http.MethodPost, tc.path, tokenFor(t, svc, tc.user), tc.body)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d body=%s", tc.status, rr.Code, rr.Body.String())
			}
			if len(m.offers) != 0 {
				t.Fatalf("expected no offer to be created")
			}
		})
	}
}

func TestBackupOfferOnUnderOfferProperty(t *testing.T) {
	m, svc, server, _ := newMarketServer(t)
	m.seedOffer(10, testBuyer.ID, 440000, store.OfferAccepted)
	m.properties[10] = store.Property{ID: 10, SellerID: testSeller.ID, Title: "Harbour Loft", Price: 450000, Status: store.PropertyUnderOffer}

	rr, payload := doJSON(t, server, http.MethodPost, "/api/properties/10/offers", tokenFor(t, svc, testBuyer), `{"amount":455000}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload["status"] != store.OfferPending {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if len(m.notificationsFor(testSeller.ID)) != 1 {
		t.Fatalf("expected seller to be notified of backup offer")
	}
}

func TestAdminCannotOfferOnOwnProperty(t *testing.T) {
	m, svc, server, _ := newMarketServer(t)
	m.properties[12] = store.Property{ID: 12, SellerID: testAdmin.ID, Title: "Admin Flat", Status: store.PropertyAvailable}

	rr, _ := doJSON(t, server, http.MethodPost, "/api/properties/12/offers", tokenFor(t, svc, testAdmin), `{"amount":10}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestDuplicateIdempotencyKeyCreatesOneOffer(t *testing.T) {
	m, svc, server, _ := newMarketServer(t)
	token := tokenFor(t, svc, testBuyer)

	send := func(key string) int {
		req := newJSONRequest(http.MethodPost, "/api/properties/10/offers", token, `{"amount":400000}`)
		req.Header.Set("Idempotency-Key", key)
		rr := serve(server, req)
		return rr.Code
	}

	if code := send("abc-1"); code != http.StatusCreated {
		t.Fatalf("first request: expected 201, got %d", code)
	}
	if code := send("abc-1"); code != http.StatusConflict {
		t.Fatalf("replayed request: expected 409, got %d", code)
	}
	if code := send("abc-2"); code != http.StatusCreated {
		t.Fatalf("new key: expected 201, got %d", code)
	}
	if len(m.offers) != 2 {
		t.Fatalf("expected 2 offers, got %d", len(m.offers))
	}
}

func TestFailedOfferReleasesIdempotencyKey(t *testing.T) {
	m, svc, server, _ := newMarketServer(t)
	token := tokenFor(t, svc, testBuyer)
	m.properties[10] = store.Property{ID: 10, SellerID: testSeller.ID, Title: "Harbour Loft", Status: store.PropertyAvailable}

	failing := true
	inner := svc.store.(*fakeStore).createOfferFn
	svc.store.(*fakeStore).createOfferFn = func(ctx context.Context, o store.Offer, n store.Notification) (store.Offer, error) {
		if failing {
			return store.Offer{}, fmt.Errorf("db unavailable")
		}
		return inner(ctx, o, n)
	}

	req := newJSONRequest(http.MethodPost, "/api/properties/10/offers", token, `{"amount":1}`)
	req.Header.Set("Idempotency-Key", "retry-me")
	if rr := serve(server, req); rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}

	failing = false
	req = newJSONRequest(http.MethodPost, "/api/properties/10/offers", token, `{"amount":1}`)
	req.Header.Set("Idempotency-Key", "retry-me")
	if rr := serve(server, req); rr.Code != http.StatusCreated {
		t.Fatalf("expected retry to succeed, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestNonOwnerCannotDecideOffer(t *testing.T) {
	m, svc, server, _ := newMarketServer(t)
	offerID := m.seedOffer(10, testBuyer.ID, 400000, store.OfferPending)

	for _, user := range []store.User{testOther, testBuyer} {
		rr, _ := doJSON(t, server, http.MethodPatch, fmt.Sprintf("/api/offers/%d", offerID), tokenFor(t, svc, user), `{"status":"Accepted"}`)
		if rr.Code != http.StatusForbidden {
			t.Fatalf("user %d: expected 403, got %d body=%s", user.ID, rr.Code, rr.Body.String())
		}
	}
	if got := m.offer(offerID); got.Status != store.OfferPending || got.Version != 1 {
		t.Fatalf("expected offer untouched, got %+v", got)
	}
	if len(m.notificationsFor(testBuyer.ID)) != 0 {
		t.Fatalf("expected no notifications")
	}
}

func TestDecideOfferValidatesBeforeLookup(t *testing.T) {
	m, svc, server, _ := newMarketServer(t)
	offerID := m.seedOffer(10, testBuyer.ID, 400000, store.OfferPending)
	other := tokenFor(t, svc, testOther)
	owner := tokenFor(t, svc, testSeller)

	cases := []struct {
		name   string
		token  string
		path   string
		body   string
		status int
	}{
		{"invalid status from non-owner", other, fmt.Sprintf("/api/offers/%d", offerID), `{"status":"Maybe"}`, http.StatusBadRequest},
		{"invalid status on missing offer", other, "/api/offers/9999", `{"status":"Pending"}`, http.StatusBadRequest},
		{"negative counter", other, fmt.Sprintf("/api/offers/%d", offerID), `{"status":"Countered","counter_amount":-5}`, http.StatusBadRequest},
		{"missing offer", owner, "/api/offers/9999", `{"status":"Rejected"}`, http.StatusNotFound},
		{"bad id", owner, "/api/offers/x1", `{"status":"Rejected"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr, _ := doJSON(t, server, http.MethodPatch, tc.path, tc.token, tc.body)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d body=%s", tc.status, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestAcceptOfferNotifiesBuyerAndMarksUnderOffer(t *testing.T) {
	m, svc, server, searcher := newMarketServer(t)
	offerID := m.seedOffer(10, testBuyer.ID, 410000, store.OfferPending)

	rr, payload := doJSON(t, server, http.MethodPatch, fmt.Sprintf("/api/offers/%d", offerID), tokenFor(t, svc, testSeller),
		`{"status":"Accepted","message":"Congratulations"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload["status"] != store.OfferAccepted || payload["message"] != "Offer accepted" {
		t.Fatalf("unexpected payload: %v", payload)
	}

	notes := m.notificationsFor(testBuyer.ID)
	if len(notes) != 1 || notes[0].Type != store.NotificationOfferUpdated {
		t.Fatalf("expected one offer_updated notification, got %+v", notes)
	}
	if !strings.Contains(strings.ToLower(notes[0].Message), "accepted") || !strings.HasSuffix(notes[0].Message, ": Congratulations") {
		t.Fatalf("unexpected notification text %q", notes[0].Message)
	}
	if m.properties[10].Status != store.PropertyUnderOffer {
		t.Fatalf("expected property under offer, got %q", m.properties[10].Status)
	}
	if len(searcher.indexed) != 1 || searcher.indexed[0].Status != store.PropertyUnderOffer {
		t.Fatalf("expected search reindex with Under Offer, got %+v", searcher.indexed)
	}
}

func TestCounterOfferUpdatesAmount(t *testing.T) {
	m, svc, server, _ := newMarketServer(t)
	offerID := m.seedOffer(10, testBuyer.ID, 380000, store.OfferPending)
	token := tokenFor(t, svc, testSeller)

	rr, payload := doJSON(t, server, http.MethodPatch, fmt.Sprintf("/api/offers/%d", offerID), token,
		`{"status":"Countered","counter_amount":430000}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload["amount"] != float64(430000) || payload["version"] != float64(2) {
		t.Fatalf("unexpected payload: %v", payload)
	}
	notes := m.notificationsFor(testBuyer.ID)
	if len(notes) != 1 || !strings.Contains(notes[0].Message, "countered your offer on Harbour Loft with $430000.00") {
		t.Fatalf("unexpected counter notification: %+v", notes)
	}

	// A countered offer can still be decided.
	rr, _ = doJSON(t, server, http.MethodPatch, fmt.Sprintf("/api/offers/%d", offerID), token, `{"status":"Rejected"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected countered offer to be rejectable, got %d", rr.Code)
	}
	if m.offer(offerID).Amount != 430000 {
		t.Fatalf("expected countered amount to stick, got %v", m.offer(offerID).Amount)
	}
}

func TestCounterWithoutAmountKeepsAmount(t *testing.T) {
	m, svc, server, _ := newMarketServer(t)
	offerID := m.seedOffer(10, testBuyer.ID, 1000, store.OfferPending)

	rr, payload := doJSON(t, server, http.MethodPatch, fmt.Sprintf("/api/offers/%d", offerID), tokenFor(t, svc, testSeller),
		`{"status":"Countered"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload["status"] != store.OfferCountered || payload["amount"] != float64(1000) {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if got := m.offer(offerID); got.Status != store.OfferCountered || got.Amount != 1000 {
		t.Fatalf("expected stored offer Countered at 1000, got %+v", got)
	}
}

func TestOfferNegotiationEndToEnd(t *testing.T) {
	m, svc, server, _ := newMarketServer(t)

	rr, created := doJSON(t, server, http.MethodPost, "/api/properties/10/offers", tokenFor(t, svc, testBuyer), `{"amount":250000}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	offerID, ok := created["offer_id"].(float64)
	if !ok {
		t.Fatalf("expected offer_id in %v", created)
	}

	rr, decided := doJSON(t, server, http.MethodPatch, fmt.Sprintf("/api/offers/%d", int64(offerID)), tokenFor(t, svc, testSeller),
		`{"status":"Accepted"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if decided["status"] != store.OfferAccepted || decided["amount"] != float64(250000) {
		t.Fatalf("unexpected accept payload: %v", decided)
	}

	if m.properties[10].Status != store.PropertyUnderOffer {
		t.Fatalf("expected property Under Offer, got %q", m.properties[10].Status)
	}
	notes := m.notificationsFor(testBuyer.ID)
	if len(notes) != 1 || !strings.Contains(strings.ToLower(notes[0].Message), "accepted") {
		t.Fatalf("expected one buyer notification mentioning accepted, got %+v", notes)
	}
}

func TestTerminalOfferCannotBeDecidedAgain(t *testing.T) {
	m, svc, server, _ := newMarketServer(t)
	token := tokenFor(t, svc, testSeller)
	for _, status := range []string{store.OfferAccepted, store.OfferRejected} {
		offerID := m.seedOffer(10, testBuyer.ID, 1000, status)
		for _, decision := range []string{"Accepted", "Rejected", "Countered"} {
			rr, _ := doJSON(t, server, http.MethodPatch, fmt.Sprintf("/api/offers/%d", offerID), token, fmt.Sprintf(`{"status":%q}`, decision))
			if rr.Code != http.StatusConflict {
				t.Fatalf("%s -> %s: expected 409, got %d", status, decision, rr.Code)
			}
		}
		if got := m.offer(offerID); got.Status != status || got.Version != 1 {
			t.Fatalf("expected terminal offer untouched, got %+v", got)
		}
	}
}

func TestSecondAcceptOnPropertyConflicts(t *testing.T) {
	m, svc, server, _ := newMarketServer(t)
	first := m.seedOffer(10, testBuyer.ID, 400000, store.OfferPending)
	second := m.seedOffer(10, testBuyer.ID, 405000, store.OfferPending)
	token := tokenFor(t, svc, testSeller)

	if rr, _ := doJSON(t, server, http.MethodPatch, fmt.Sprintf("/api/offers/%d", first), token, `{"status":"Accepted"}`); rr.Code != http.StatusOK {
		t.Fatalf("first accept: expected 200, got %d", rr.Code)
	}
	if rr, _ := doJSON(t, server, http.MethodPatch, fmt.Sprintf("/api/offers/%d", second), token, `{"status":"Accepted"}`); rr.Code != http.StatusConflict {
		t.Fatalf("second accept: expected 409, got %d", rr.Code)
	}
	if m.offer(second).Status != store.OfferPending {
		t.Fatalf("expected second offer to stay pending")
	}
}

func TestStaleVersionConflicts(t *testing.T) {
	m, svc, server, _ := newMarketServer(t)
	offerID := m.seedOffer(10, testBuyer.ID, 400000, store.OfferPending)

	rr, _ := doJSON(t, server, http.MethodPatch, fmt.Sprintf("/api/offers/%d", offerID), tokenFor(t, svc, testSeller),
		`{"status":"Rejected","version":7}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if m.offer(offerID).Status != store.OfferPending {
		t.Fatalf("expected offer unchanged")
	}
}

func TestAdminMayDecideAnyOffer(t *testing.T) {
	m, svc, server, _ := newMarketServer(t)
	offerID := m.seedOffer(10, testBuyer.ID, 400000, store.OfferPending)

	rr, _ := doJSON(t, server, http.MethodPatch, fmt.Sprintf("/api/offers/%d", offerID), tokenFor(t, svc, testAdmin), `{"status":"Rejected"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestOfferListingsAreRoleGated(t *testing.T) {
	_, svc, server, _ := newMarketServer(t)
	var sellerQueried int64
	svc.store.(*fakeStore).listOffersForSellerFn = func(_ context.Context, sellerID int64) ([]store.OfferView, error) {
		sellerQueried = sellerID
		return []store.OfferView{{Offer: store.Offer{ID: 1, Status: store.OfferPending}, BuyerName: "Bea Buyer"}}, nil
	}

	rr, _ := doJSON(t, server, http.MethodGet, "/api/offers/seller", tokenFor(t, svc, testBuyer), "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("buyer on seller listing: expected 403, got %d", rr.Code)
	}
	rr, _ = doJSON(t, server, http.MethodGet, "/api/offers/seller", tokenFor(t, svc, testSeller), "")
	if rr.Code != http.StatusOK || sellerQueried != testSeller.ID {
		t.Fatalf("expected seller listing for %d, got %d (queried %d)", testSeller.ID, rr.Code, sellerQueried)
	}
	if !strings.Contains(rr.Body.String(), `"buyer_name":"Bea Buyer"`) {
		t.Fatalf("expected buyer name in listing, got %s", rr.Body.String())
	}

	rr, _ = doJSON(t, server, http.MethodGet, "/api/properties/10/offers", tokenFor(t, svc, testOther), "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("other seller on property offers: expected 403, got %d", rr.Code)
	}
	rr, _ = doJSON(t, server, http.MethodGet, "/api/properties/10/offers", tokenFor(t, svc, testSeller), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("owner on property offers: expected 200, got %d", rr.Code)
	}
}
