package web

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"math"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"course-checkout/internal/domain"
	"course-checkout/internal/domain/model"
	"course-checkout/internal/infra/i18n"
	"course-checkout/internal/infra/logging"
	red "course-checkout/internal/infra/redis"
	"course-checkout/internal/infra/worker"
	"course-checkout/internal/usecase"
)

type startRequest struct {
	PaymentMethod model.PaymentMethod `json:"payment_method"`
}

type errorResponse struct {
	Error    string            `json:"error"`
	Code     string            `json:"code"`
	Fields   map[string]string `json:"fields,omitempty"`
	Purchase *model.Purchase   `json:"purchase,omitempty"`
}

type statusResponse struct {
	PurchaseID string               `json:"purchaseId"`
	Status     model.PurchaseStatus `json:"status,omitempty"`
	Attempts   int                  `json:"attempts"`
	Outcome    usecase.PollOutcome  `json:"outcome,omitempty"`
	Done       bool                 `json:"done"`
	Watching   bool                 `json:"watching"`
	Message    string               `json:"message,omitempty"`
	Purchase   *model.Purchase      `json:"purchase,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	journeyID := chi.URLParam(r, "journeyID")
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, domain.ErrInvalidArgument, nil)
		return
	}

	created, err := s.purchases.Start(r.Context(), journeyID, req.PaymentMethod)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.allowConfirm(r, id) {
		w.Header().Set("Retry-After", strconv.Itoa(int(s.confirmWindow.Seconds())))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: s.tr.T("error.rate_limited"), Code: "error.rate_limited"})
		return
	}
	var details model.PaymentDetails
	if err := json.NewDecoder(r.Body).Decode(&details); err != nil {
		s.writeError(w, r, domain.ErrInvalidArgument, nil)
		return
	}

	p, err := s.purchases.Confirm(r.Context(), id, details)
	if err != nil {
		s.writeError(w, r, err, p)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// allowConfirm fails open: a limiter outage must not block payments.
func (s *Server) allowConfirm(r *http.Request, purchaseID string) bool {
	if s.limiter == nil || s.confirmLimit <= 0 {
		return true
	}
	ok, err := s.limiter.Allow(r.Context(), red.ConfirmKey(purchaseID), s.confirmLimit, s.confirmWindow)
	if err != nil {
		logging.With(r.Context(), s.log).Warn().Err(err).Str("purchase_id", purchaseID).Msg("confirm rate limiter")
		return true
	}
	return ok
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.purchases.Cancel(r.Context(), id); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	if wt := s.watches.get(id); wt != nil {
		s.watches.drop(wt)
	}
	writeJSON(w, http.StatusOK, statusResponse{PurchaseID: id, Status: model.PurchaseStatusCancelled, Done: true})
}

// handleStatus reports the watch for the purchase, or a one-off read when
// nothing is watching it.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if wt := s.watches.get(id); wt != nil {
		snap := wt.snapshot()
		if snap.Done() && errors.Is(snap.Err, domain.ErrSessionExpired) {
			s.watches.drop(wt)
			s.redirectToLogin(w, r)
			return
		}
		resp := statusResponse{
			PurchaseID: id,
			Status:     snap.Status,
			Attempts:   snap.Attempts,
			Outcome:    snap.Outcome,
			Done:       snap.Done(),
			Watching:   !snap.Done(),
			Purchase:   snap.Purchase,
		}
		if snap.Err != nil {
			resp.Message = s.tr.Error(snap.Err)
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	p, err := s.purchases.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		PurchaseID: id,
		Status:     p.Status,
		Done:       p.Status.IsTerminal(),
		Purchase:   p,
	})
}

// handleReturn is where an external gateway sends the user back. It starts
// (or reuses) a watch and renders its current state; the page reloads
// itself while the purchase is still pending.
func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("purchase_id")
	if id == "" {
		s.renderPage(w, http.StatusBadRequest, returnPage{Message: s.tr.T("error.invalid")})
		return
	}

	wt, created := s.watches.acquire(id)
	if created {
		if err := s.pool.Submit(s.watchTask(wt)); err != nil {
			s.watches.drop(wt)
			logging.With(r.Context(), s.log).Warn().Err(err).Str("purchase_id", id).Msg("cannot queue watch")
			w.Header().Set("Retry-After", "5")
			s.renderPage(w, http.StatusServiceUnavailable, returnPage{PurchaseID: id, Message: s.tr.T("error.upstream")})
			return
		}
	}

	snap := wt.snapshot()
	if snap.Done() && errors.Is(snap.Err, domain.ErrSessionExpired) {
		s.watches.drop(wt)
		s.redirectToLogin(w, r)
		return
	}
	code, page := s.pageFor(snap)
	s.renderPage(w, code, page)
}

func (s *Server) watchTask(wt *watch) worker.Task {
	return func(ctx context.Context) error {
		h := s.purchases.Watch(ctx, wt.id, s.poll)
		if !wt.attach(h) {
			h.Cancel()
			return nil
		}
		snap, err := h.Wait(ctx)
		if err != nil {
			h.Cancel()
			return err
		}
		if snap.Outcome == usecase.PollFailed {
			return snap.Err
		}
		return nil
	}
}

func (s *Server) pageFor(snap usecase.PollSnapshot) (int, returnPage) {
	page := returnPage{PurchaseID: snap.PurchaseID, Attempts: snap.Attempts}
	if p := snap.Purchase; p != nil {
		page.Amount = i18n.Amount(p.Amount, p.Currency)
	}

	switch snap.Outcome {
	case usecase.PollRunning:
		page.Heading = s.tr.T("status.PENDING")
		page.Refresh = int(math.Ceil(s.poll.Interval.Seconds()))
		if page.Refresh < 1 {
			page.Refresh = 1
		}
		return http.StatusAccepted, page
	case usecase.PollTerminal:
		page.Heading = s.tr.T("status." + string(snap.Status))
		page.OK = snap.Status == model.PurchaseStatusCompleted
		if p := snap.Purchase; p != nil && p.FailureReason != nil {
			page.Message = s.tr.T("error.declined", *p.FailureReason)
		}
	case usecase.PollExhausted:
		page.Heading = s.tr.T("status.PENDING")
		page.Message = s.tr.T("poll.exhausted")
	case usecase.PollFailed:
		page.Heading = s.tr.T("poll.failed")
		page.Message = s.tr.Error(snap.Err)
	case usecase.PollCancelled:
		page.Heading = s.tr.T("poll.cancelled")
	}
	return http.StatusOK, page
}

// writeError maps err to an HTTP status. p, when set, is the canonical
// purchase the server holds after the failure.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, p *model.Purchase) {
	if errors.Is(err, domain.ErrSessionExpired) {
		s.redirectToLogin(w, r)
		return
	}

	resp := errorResponse{Error: s.tr.Error(err), Code: i18n.ErrorKey(err), Purchase: p}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		resp.Fields = s.tr.Fields(ve.Fields)
	}

	code := httpStatus(err)
	if code >= http.StatusInternalServerError {
		logging.With(r.Context(), s.log).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, code, resp)
}

func httpStatus(err error) int {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity
	case domain.IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPaymentDeclined):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// redirectToLogin sends the user to sign in and back to the current page.
func (s *Server) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	target := s.loginURL
	if u, err := url.Parse(s.loginURL); err == nil {
		q := u.Query()
		q.Set("redirect", r.URL.RequestURI())
		u.RawQuery = q.Encode()
		target = u.String()
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type returnPage struct {
	Lang       string
	Title      string
	Heading    string
	Message    string
	PurchaseID string
	Amount     string
	Attempts   int
	Refresh    int // seconds; 0 disables the reload
	OK         bool
}

var returnTmpl = template.Must(template.New("return").Parse(`<!doctype html>
<html lang="{{.Lang}}">
<head>
<meta charset="utf-8" />
<meta name="viewport" content="width=device-width,initial-scale=1" />
{{if .Refresh}}<meta http-equiv="refresh" content="{{.Refresh}}" />{{end}}
<title>{{.Title}}</title>
<style>
body{font-family:system-ui,Arial,sans-serif;margin:2rem;}
.card{max-width:560px;border:1px solid #ddd;border-radius:12px;padding:24px;}
.ok{color:#057a55} .wait{color:#8a6d00}
.small{font-size:12px;color:#666}
</style>
</head>
<body>
<div class="card">
  <h2 class="{{if .OK}}ok{{else}}wait{{end}}">{{.Heading}}</h2>
  {{if .Message}}<p>{{.Message}}</p>{{end}}
  {{if .Amount}}<p>{{.Amount}}</p>{{end}}
  {{if .PurchaseID}}<div class="small">{{.PurchaseID}}{{if .Attempts}} · {{.Attempts}}{{end}}</div>{{end}}
</div>
</body>
</html>`))

func (s *Server) renderPage(w http.ResponseWriter, code int, p returnPage) {
	p.Lang = s.tr.Lang()
	p.Title = s.tr.T("page.return.title")
	if p.Heading == "" {
		p.Heading = p.Title
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_ = returnTmpl.Execute(w, p)
}
