package app

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"estately/api/internal/rbac"
)

// handleProperties serves /api/properties and everything below it.
func (s *HTTPServer) handleProperties(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			if !s.require(w, r, session, rbac.ActionBrowse) {
				return
			}
			query, err := parsePropertyQuery(r.URL.Query())
			if err != nil {
				writeFailure(w, r, err)
				return
			}
			s.respond(w, r, http.StatusOK)(s.service.ListProperties(r.Context(), query))
		case http.MethodPost:
			if !s.require(w, r, session, rbac.ActionListProperty) {
				return
			}
			var body PropertyInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			s.respond(w, r, http.StatusCreated)(s.service.CreateProperty(r.Context(), session, body))
		default:
			methodNotAllowed(w)
		}
		return
	}

	if parts[0] == "mine" && len(parts) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		if !s.require(w, r, session, rbac.ActionListProperty) {
			return
		}
		query, err := parsePropertyQuery(r.URL.Query())
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		s.respond(w, r, http.StatusOK)(s.service.MyProperties(r.Context(), session, query.Limit, query.Offset))
		return
	}

	propertyID, ok := parseID(parts[0])
	if !ok {
		writeBadID(w)
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			if !s.require(w, r, session, rbac.ActionBrowse) {
				return
			}
			s.respond(w, r, http.StatusOK)(s.service.GetProperty(r.Context(), propertyID))
		case http.MethodPut, http.MethodPatch:
			if !s.require(w, r, session, rbac.ActionListProperty) {
				return
			}
			var body PropertyInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			s.respond(w, r, http.StatusOK)(s.service.UpdateProperty(r.Context(), session, propertyID, body))
		case http.MethodDelete:
			if !s.require(w, r, session, rbac.ActionListProperty) {
				return
			}
			if err := s.service.DeleteProperty(r.Context(), session, propertyID); err != nil {
				writeFailure(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			methodNotAllowed(w)
		}
		return
	}

	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "offers":
		switch r.Method {
		case http.MethodPost:
			if !s.require(w, r, session, rbac.ActionMakeOffer) {
				return
			}
			var body CreateOfferInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			body.IdempotencyKey = r.Header.Get("Idempotency-Key")
			s.respond(w, r, http.StatusCreated)(s.service.CreateOffer(r.Context(), session, propertyID, body))
		case http.MethodGet:
			if !s.require(w, r, session, rbac.ActionManageOffers) {
				return
			}
			s.respond(w, r, http.StatusOK)(s.service.PropertyOffers(r.Context(), session, propertyID))
		default:
			methodNotAllowed(w)
		}

	case "favorite":
		if !s.require(w, r, session, rbac.ActionEngage) {
			return
		}
		switch r.Method {
		case http.MethodPost:
			s.respond(w, r, http.StatusCreated)(s.service.AddFavorite(r.Context(), session, propertyID))
		case http.MethodDelete:
			s.respond(w, r, http.StatusOK)(s.service.RemoveFavorite(r.Context(), session, propertyID))
		default:
			methodNotAllowed(w)
		}

	case "visits":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if !s.require(w, r, session, rbac.ActionEngage) {
			return
		}
		var body VisitInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.respond(w, r, http.StatusCreated)(s.service.RequestVisit(r.Context(), session, propertyID, body))

	case "reviews":
		switch r.Method {
		case http.MethodGet:
			if !s.require(w, r, session, rbac.ActionBrowse) {
				return
			}
			s.respond(w, r, http.StatusOK)(s.service.ListReviews(r.Context(), propertyID))
		case http.MethodPost:
			if !s.require(w, r, session, rbac.ActionEngage) {
				return
			}
			var body ReviewInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			s.respond(w, r, http.StatusCreated)(s.service.CreateReview(r.Context(), session, propertyID, body))
		default:
			methodNotAllowed(w)
		}

	case "conversations":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if !s.require(w, r, session, rbac.ActionMessage) {
			return
		}
		s.respond(w, r, http.StatusCreated)(s.service.StartConversation(r.Context(), session, propertyID))

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// handleOffers serves /api/offers/seller, /api/offers/buyer and /api/offers/:id.
func (s *HTTPServer) handleOffers(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[0] {
	case "seller":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		if !s.require(w, r, session, rbac.ActionManageOffers) {
			return
		}
		s.respond(w, r, http.StatusOK)(s.service.SellerOffers(r.Context(), session))
		return
	case "buyer":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		if !s.require(w, r, session, rbac.ActionMakeOffer) {
			return
		}
		s.respond(w, r, http.StatusOK)(s.service.BuyerOffers(r.Context(), session))
		return
	}

	offerID, ok := parseID(parts[0])
	if !ok {
		writeBadID(w)
		return
	}
	if r.Method != http.MethodPatch && r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	// Ownership of the offer's property is checked by the service after the
	// body is validated, so no role gate here.
	var body OfferDecisionInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	s.respond(w, r, http.StatusOK)(s.service.DecideOffer(r.Context(), session, offerID, body))
}

func parsePropertyQuery(values url.Values) (PropertyQuery, error) {
	query := PropertyQuery{
		Text:   strings.TrimSpace(values.Get("q")),
		City:   strings.TrimSpace(values.Get("city")),
		Status: strings.TrimSpace(values.Get("status")),
		Type:   strings.TrimSpace(values.Get("type")),
	}
	if query.Status != "" {
		if _, ok := propertyStatuses[query.Status]; !ok {
			return query, validationField("status", "status must be one of Available, Under Offer, Sold")
		}
	}

	floatParam := func(name string, dst *float64) error {
		raw := strings.TrimSpace(values.Get(name))
		if raw == "" {
			return nil
		}
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 {
			return validationField(name, name+" must be a non-negative number")
		}
		*dst = parsed
		return nil
	}
	intParam := func(name string, dst *int) error {
		raw := strings.TrimSpace(values.Get(name))
		if raw == "" {
			return nil
		}
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return validationField(name, name+" must be a non-negative integer")
		}
		*dst = parsed
		return nil
	}

	if err := floatParam("min_price", &query.MinPrice); err != nil {
		return query, err
	}
	if err := floatParam("max_price", &query.MaxPrice); err != nil {
		return query, err
	}
	if query.MinPrice > 0 && query.MaxPrice > 0 && query.MinPrice > query.MaxPrice {
		return query, validationField("min_price", "min_price cannot exceed max_price")
	}
	if err := intParam("limit", &query.Limit); err != nil {
		return query, err
	}
	if err := intParam("offset", &query.Offset); err != nil {
		return query, err
	}
	return query, nil
}
