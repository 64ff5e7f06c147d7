package gateway

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/danhigham/tgpulse/internal/apperr"
	"github.com/danhigham/tgpulse/internal/domain"
)

type sendCodeRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type sendCodeResponse struct {
	PhoneCodeHash string `json:"phoneCodeHash"`
}

type verifyCodeRequest struct {
	PhoneNumber   string `json:"phoneNumber"`
	Code          string `json:"code"`
	PhoneCodeHash string `json:"phoneCodeHash"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

type successResponse struct {
	Success      bool `json:"success"`
	NeedPassword bool `json:"needPassword,omitempty"`
}

type statusResponse struct {
	Connected bool         `json:"connected"`
	User      *domain.User `json:"user,omitempty"`
}

type healthResponse struct {
	Status        string `json:"status"`
	APIConfigured bool   `json:"apiConfigured"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", APIConfigured: s.opts.APIConfigured})
}

func (s *Server) handleSendCode(w http.ResponseWriter, r *http.Request) {
	var req sendCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	prev := cookieValue(r, s.opts.LoginCookieName)
	pl, err := s.machine.SendCode(r.Context(), prev, req.PhoneNumber)
	s.metrics.login("send_code", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.setCookie(w, s.opts.LoginCookieName, pl.ID, s.machine.PendingTTL())
	writeJSON(w, http.StatusOK, sendCodeResponse{PhoneCodeHash: pl.PhoneCodeHash})
}

func (s *Server) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.machine.SubmitCode(r.Context(), cookieValue(r, s.opts.LoginCookieName), req.PhoneNumber, req.Code, req.PhoneCodeHash)
	s.metrics.login("verify_code", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if res.NeedPassword {
		s.setCookie(w, s.opts.LoginCookieName, res.LoginID, s.machine.PendingTTL())
		writeJSON(w, http.StatusOK, successResponse{Success: false, NeedPassword: true})
		return
	}

	s.setCookie(w, s.opts.CookieName, res.Session.Token, s.machine.SessionTTL())
	s.clearCookie(w, s.opts.LoginCookieName)
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (s *Server) handleSignInPassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	sess, err := s.machine.SubmitPassword(r.Context(), cookieValue(r, s.opts.LoginCookieName), req.Password)
	s.metrics.login("sign_in_password", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.setCookie(w, s.opts.CookieName, sess.Token, s.machine.SessionTTL())
	s.clearCookie(w, s.opts.LoginCookieName)
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	token, rec := sessionFrom(r.Context())

	snap, err := s.aggregator.Snapshot(r.Context(), rec.Data)
	if err != nil {
		s.metrics.snapshots.WithLabelValues("error").Inc()
		s.rejectSession(w, r, token, err)
		s.writeError(w, r, err)
		return
	}
	s.metrics.snapshots.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	token, _ := sessionFrom(r.Context())

	user, err := s.machine.Status(r.Context(), token)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, statusResponse{Connected: true, User: &user})
	case apperr.KindOf(err) == apperr.KindAuthorization:
		s.clearCookie(w, s.opts.CookieName)
		s.writeError(w, r, err)
	default:
		s.logger.Warn("status check failed", zap.Error(err))
		writeJSON(w, http.StatusOK, statusResponse{Connected: false})
	}
}

// handleLogout always succeeds. Calling it without a session is a no-op.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := cookieValue(r, s.opts.CookieName); token != "" {
		s.machine.Logout(r.Context(), token)
	}
	s.machine.Abandon(cookieValue(r, s.opts.LoginCookieName))
	s.clearCookie(w, s.opts.CookieName)
	s.clearCookie(w, s.opts.LoginCookieName)
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// rejectSession drops a session Telegram no longer accepts.
func (s *Server) rejectSession(w http.ResponseWriter, r *http.Request, token string, err error) {
	if apperr.KindOf(err) != apperr.KindAuthorization {
		return
	}
	s.machine.Expire(r.Context(), token)
	s.clearCookie(w, s.opts.CookieName)
}
