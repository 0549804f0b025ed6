package api

import (
	"fmt"
	"net/http"

	"github.com/jmcleod/editgate/auth"
	"github.com/jmcleod/editgate/content"
)

// Login handles POST /login.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginRequest](w, r)
	if !ok {
		return
	}

	res := a.gateway.Login(r.Context(), auth.LoginRequest{
		Client:   a.client(r),
		Username: req.Username,
		Secret:   req.Password,
	})
	switch {
	case res.Success:
		writeSessionCookie(w, r, res.Token)
		writeCSRFCookie(w, r)
		writeJSON(w, http.StatusOK, LoginResponse{Success: true, Message: res.Message})
	case res.Status == http.StatusTooManyRequests:
		writeRateLimited(w, res.RetryAfter, res.Message)
	default:
		writeJSON(w, res.Status, LoginResponse{
			Message:           res.Message,
			AttemptsRemaining: res.AttemptsRemaining,
		})
	}
}

// CheckAuth handles GET /check-auth. It always answers 200.
func (a *API) CheckAuth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CheckAuthResponse{
		Authenticated: a.gateway.CheckAuth(sessionToken(r)),
	})
}

// Logout handles POST /logout.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	res := a.gateway.Logout(r.Context(), sessionToken(r), a.client(r))
	clearSessionCookie(w, r)
	clearCSRFCookie(w, r)
	writeResult(w, res)
}

// ChangePassword handles POST /change-password.
func (a *API) ChangePassword(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[ChangePasswordRequest](w, r)
	if !ok {
		return
	}
	res := a.gateway.ChangePassword(r.Context(), auth.ChangePasswordRequest{
		Client:  a.client(r),
		Token:   tokenFromContext(r.Context()),
		Current: req.CurrentPassword,
		New:     req.NewPassword,
	})
	writeResult(w, res)
}

// Logs handles GET /logs.
func (a *API) Logs(w http.ResponseWriter, r *http.Request) {
	entries, total, err := a.gateway.Logs(tokenFromContext(r.Context()), parseLimit(r))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	out := make([]LogEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, logEntryFromAuth(e))
	}
	writeJSON(w, http.StatusOK, LogsResponse{Logs: out, Total: total})
}

// UpdateWebsite handles POST /update-website. The body is stored as the
// new site document.
func (a *API) UpdateWebsite(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	version, err := a.content.Save(r.Context(), body)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	annotation := fmt.Sprintf("content version %d", version)
	if _, err := a.gateway.RecordAction(r.Context(), tokenFromContext(r.Context()), a.client(r), auth.EventContentSaved, annotation); err != nil {
		a.logger.Warn("recording content save failed", "version", version, "error", err)
	}
	writeJSON(w, http.StatusOK, UpdateWebsiteResponse{
		Success: true,
		Message: "Website updated successfully",
		Version: version,
	})
}

// GetWebsite handles GET /website.
func (a *API) GetWebsite(w http.ResponseWriter, r *http.Request) {
	doc, err := a.content.Current(r.Context())
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, websiteFromDocument(doc))
}

// GetWebsiteHistory handles GET /website/history.
func (a *API) GetWebsiteHistory(w http.ResponseWriter, r *http.Request) {
	docs, err := a.content.History(r.Context())
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	out := make([]WebsiteResponse, 0, len(docs))
	for _, doc := range docs {
		out = append(out, websiteFromDocument(doc))
	}
	writeJSON(w, http.StatusOK, WebsiteHistoryResponse{Versions: out})
}

func websiteFromDocument(doc content.Document) WebsiteResponse {
	return WebsiteResponse{Version: doc.Version, SavedAt: doc.SavedAt, Data: doc.Data}
}
