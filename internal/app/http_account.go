package app

import (
	"net/http"
	"strconv"
	"strings"

	"estately/api/internal/rbac"
)

func (s *HTTPServer) handleVisits(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.respond(w, r, http.StatusOK)(s.service.ListVisits(r.Context(), session))
		return
	}
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	visitID, ok := parseID(parts[0])
	if !ok {
		writeBadID(w)
		return
	}
	if r.Method != http.MethodPatch && r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	s.respond(w, r, http.StatusOK)(s.service.UpdateVisit(r.Context(), session, visitID, body.Status))
}

func (s *HTTPServer) handleConversations(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if !s.require(w, r, session, rbac.ActionMessage) {
		return
	}
	if len(parts) == 0 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.respond(w, r, http.StatusOK)(s.service.ListConversations(r.Context(), session))
		return
	}
	if len(parts) != 2 || parts[1] != "messages" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	conversationID, ok := parseID(parts[0])
	if !ok {
		writeBadID(w)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.respond(w, r, http.StatusOK)(s.service.ListMessages(r.Context(), session, conversationID))
	case http.MethodPost:
		var body struct {
			Body string `json:"body"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.respond(w, r, http.StatusCreated)(s.service.SendMessage(r.Context(), session, conversationID, body.Body))
	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) handleNotifications(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		unreadOnly := strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("unread")), "true")
		limit := 0
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a non-negative integer", nil)
				return
			}
			limit = parsed
		}
		s.respond(w, r, http.StatusOK)(s.service.ListNotifications(r.Context(), session, unreadOnly, limit))
		return
	}

	if len(parts) == 1 && parts[0] == "read-all" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.respond(w, r, http.StatusOK)(s.service.MarkAllNotificationsRead(r.Context(), session))
		return
	}

	if len(parts) == 2 && parts[1] == "read" {
		notificationID, ok := parseID(parts[0])
		if !ok {
			writeBadID(w)
			return
		}
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if err := s.service.MarkNotificationRead(r.Context(), session, notificationID); err != nil {
			writeFailure(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleProfile(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 1 && parts[0] == "password" {
		if r.Method != http.MethodPut && r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var body struct {
			CurrentPassword string `json:"current_password"`
			NewPassword     string `json:"new_password"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.ChangePassword(r.Context(), session, body.CurrentPassword, body.NewPassword); err != nil {
			writeFailure(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	if len(parts) != 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.respond(w, r, http.StatusOK)(s.service.Profile(r.Context(), session))
	case http.MethodPut, http.MethodPatch:
		var body ProfileInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.respond(w, r, http.StatusOK)(s.service.UpdateProfile(r.Context(), session, body))
	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) handleDashboard(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	switch parts[0] {
	case "seller":
		if !s.require(w, r, session, rbac.ActionManageOffers) {
			return
		}
		s.respond(w, r, http.StatusOK)(s.service.SellerDashboard(r.Context(), session))
	case "buyer":
		if !s.require(w, r, session, rbac.ActionBrowse) {
			return
		}
		s.respond(w, r, http.StatusOK)(s.service.BuyerDashboard(r.Context(), session))
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}
