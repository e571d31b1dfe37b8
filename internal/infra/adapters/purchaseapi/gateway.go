package purchaseapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"course-checkout/internal/domain"
	"course-checkout/internal/domain/model"
	"course-checkout/internal/domain/ports/adapter"
	"course-checkout/internal/infra/metrics"
	"course-checkout/internal/infra/session"
)

var _ adapter.PurchaseGateway = (*Gateway)(nil)

const (
	opCreate  = "create"
	opConfirm = "confirm"
	opCancel  = "cancel"
	opGet     = "get"
	opPending = "pending"
)

// Gateway implements adapter.PurchaseGateway. Every call goes through the
// session gate, which retries once after a shared refresh on 401.
type Gateway struct {
	http *resty.Client
	gate *session.Gate
	log  *zerolog.Logger
}

func NewGateway(c *resty.Client, gate *session.Gate, logger *zerolog.Logger) *Gateway {
	l := logger.With().Str("component", "PurchaseGateway").Logger()
	return &Gateway{http: c, gate: gate, log: &l}
}

type createRequest struct {
	JourneyID     string              `json:"journeyId"`
	PaymentMethod model.PaymentMethod `json:"paymentMethod"`
}

// errorBody covers the error shapes the API returns.
type errorBody struct {
	Message       string `json:"message"`
	Error         string `json:"error"`
	FailureReason string `json:"failureReason"`
}

func (g *Gateway) CreatePurchase(ctx context.Context, journeyID string, method model.PaymentMethod) (*model.CreatedPurchase, error) {
	if journeyID == "" || !method.Valid() {
		return nil, domain.ErrInvalidArgument
	}
	var out model.CreatedPurchase
	// One key per logical create: the retried attempt after a refresh reuses it.
	headers := map[string]string{"Idempotency-Key": uuid.NewString()}
	body := createRequest{JourneyID: journeyID, PaymentMethod: method}
	if err := g.call(ctx, opCreate, http.MethodPost, "/api/purchases", nil, headers, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (g *Gateway) ConfirmPurchase(ctx context.Context, purchaseID string, details model.PaymentDetails) (*model.Purchase, error) {
	if purchaseID == "" {
		return nil, domain.ErrInvalidArgument
	}
	var out model.Purchase
	params := map[string]string{"id": purchaseID}
	if err := g.call(ctx, opConfirm, http.MethodPost, "/api/purchases/{id}/confirm", params, nil, details, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (g *Gateway) CancelPurchase(ctx context.Context, purchaseID string) error {
	if purchaseID == "" {
		return domain.ErrInvalidArgument
	}
	params := map[string]string{"id": purchaseID}
	return g.call(ctx, opCancel, http.MethodPost, "/api/purchases/{id}/cancel", params, nil, nil, nil)
}

func (g *Gateway) GetPurchase(ctx context.Context, purchaseID string) (*model.Purchase, error) {
	if purchaseID == "" {
		return nil, domain.ErrInvalidArgument
	}
	var out model.Purchase
	params := map[string]string{"id": purchaseID}
	if err := g.call(ctx, opGet, http.MethodGet, "/api/purchases/{id}", params, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (g *Gateway) GetPendingPurchaseByJourney(ctx context.Context, journeyID string) (*model.Purchase, error) {
	if journeyID == "" {
		return nil, domain.ErrInvalidArgument
	}
	var out model.Purchase
	params := map[string]string{"journeyId": journeyID}
	err := g.call(ctx, opPending, http.MethodGet, "/api/purchases/pending/journey/{journeyId}", params, nil, nil, &out)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (g *Gateway) call(ctx context.Context, op, method, path string, params, headers map[string]string, body, out any) error {
	start := time.Now()
	var resp *resty.Response

	status, err := g.gate.Do(ctx, func(ctx context.Context) (int, error) {
		req := g.http.R().SetContext(ctx).SetPathParams(params).SetHeaders(headers)
		if body != nil {
			req.SetBody(body)
		}
		r, err := req.Execute(method, path)
		if err != nil {
			return 0, err
		}
		resp = r
		return r.StatusCode(), nil
	})
	metrics.ObserveGatewayRequest(op, status, time.Since(start))

	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSessionExpired):
			return &domain.GatewayError{Kind: domain.KindSession, Op: op, StatusCode: http.StatusUnauthorized, Err: err}
		case ctx.Err() != nil:
			return ctx.Err()
		}
		g.log.Warn().Err(err).Str("op", op).Msg("purchase api unreachable")
		return &domain.GatewayError{Kind: domain.KindNetwork, Op: op, Err: err}
	}

	if status >= 200 && status < 300 {
		if out == nil || len(resp.Body()) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return &domain.GatewayError{Kind: domain.KindServer, Op: op, StatusCode: status, Message: "malformed response body", Err: err}
		}
		return nil
	}
	return classify(op, status, resp.Body())
}

// classify maps a non-2xx response to a GatewayError. Conflicts carry the
// sentinel matching the operation so callers can use errors.Is.
func classify(op string, status int, raw []byte) error {
	var eb errorBody
	_ = json.Unmarshal(raw, &eb)
	msg := firstNonEmpty(eb.FailureReason, eb.Message, eb.Error, http.StatusText(status))

	ge := &domain.GatewayError{Op: op, StatusCode: status, Message: msg}
	switch {
	case status == http.StatusNotFound:
		ge.Kind = domain.KindNotFound
	case status == http.StatusConflict:
		ge.Kind = domain.KindConflict
		if op == opCreate {
			ge.Err = domain.ErrPendingPurchaseExists
		} else {
			ge.Err = domain.ErrPurchaseTerminal
		}
	case status == http.StatusPaymentRequired:
		ge.Kind = domain.KindDeclined
	case status == http.StatusUnauthorized:
		ge.Kind = domain.KindSession
	case status >= 500:
		ge.Kind = domain.KindServer
	case op == opConfirm && eb.FailureReason != "":
		ge.Kind = domain.KindDeclined
	default:
		ge.Kind = domain.KindBadRequest
	}
	return ge
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
