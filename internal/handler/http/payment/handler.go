package payment_http

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"elepay-bridge/internal/app/catalog"
	"elepay-bridge/internal/app/checkout"
	"elepay-bridge/internal/app/reconcile"
	"elepay-bridge/internal/domain"
	"elepay-bridge/internal/elepay"
	"elepay-bridge/internal/repository/charge_repo"
)

// ShopURLs are the shop pages the bridge redirects the customer to.
type ShopURLs struct {
	Complete string
	Cart     string
	Error    string
}

type PaymentHandler struct {
	checkoutSvc  checkout.Service
	reconcileSvc reconcile.Service
	catalogSvc   catalog.Service
	client       elepay.Client
	chargeRepo   charge_repo.ChargeRepository
	db           domain.Querier
	shopURLs     ShopURLs
	adminHost    string
	logger       *zap.Logger
}

func NewPaymentHandler(
	checkoutSvc checkout.Service,
	reconcileSvc reconcile.Service,
	catalogSvc catalog.Service,
	client elepay.Client,
	chargeRepo charge_repo.ChargeRepository,
	db domain.Querier,
	shopURLs ShopURLs,
	adminHost string,
	logger *zap.Logger,
) *PaymentHandler {
	return &PaymentHandler{
		checkoutSvc:  checkoutSvc,
		reconcileSvc: reconcileSvc,
		catalogSvc:   catalogSvc,
		client:       client,
		chargeRepo:   chargeRepo,
		db:           db,
		shopURLs:     shopURLs,
		adminHost:    adminHost,
		logger:       logger,
	}
}

// CheckoutHandler starts a payment for a pending order and 302s the customer
// to the processor page, or straight to the complete page for zero-amount
// orders.
func (h *PaymentHandler) CheckoutHandler(w http.ResponseWriter, r *http.Request) {
	orderIDStr := r.URL.Query().Get("order_id")
	orderID, err := strconv.ParseInt(orderIDStr, 10, 64)
	if err != nil {
		h.logger.Error("Invalid order id on checkout", zap.String("order_id", orderIDStr), zap.Error(err))
		http.Redirect(w, r, h.shopURLs.Error, http.StatusFound)
		return
	}

	result, err := h.checkoutSvc.InitiateCheckout(r.Context(), orderID)
	if err != nil {
		http.Redirect(w, r, h.shopURLs.Error, http.StatusFound)
		return
	}

	if result.Completed {
		http.Redirect(w, r, h.completeURL(result.OrderNo), http.StatusFound)
		return
	}
	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}

// CheckoutValidateHandler is the browser return leg from the processor page.
func (h *PaymentHandler) CheckoutValidateHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	params := reconcile.RedirectParams{
		Status:   query.Get("status"),
		CodeID:   query.Get("codeId"),
		ChargeID: query.Get("chargeId"),
		OrderNo:  query.Get("orderNo"),
	}

	route, err := h.reconcileSvc.HandleRedirect(r.Context(), params)
	if err != nil {
		h.logger.Warn("Redirect validation failed", zap.String("order_no", params.OrderNo), zap.Error(err))
	}

	switch route {
	case reconcile.RouteComplete:
		http.Redirect(w, r, h.completeURL(params.OrderNo), http.StatusFound)
	case reconcile.RouteCart:
		http.Redirect(w, r, h.shopURLs.Cart, http.StatusFound)
	default:
		http.Redirect(w, r, h.shopURLs.Error, http.StatusFound)
	}
}

// WebhookHandler accepts the processor's server-to-server notification.
// A 400 response asks the processor to redeliver; reconciliation is
// idempotent, so at-least-once delivery is safe.
func (h *PaymentHandler) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("Failed to read webhook body", zap.Error(err))
		writeWebhookResult(w, false)
		return
	}

	if err := h.reconcileSvc.HandleWebhook(r.Context(), payload); err != nil {
		h.logger.Warn("Webhook reconciliation failed", zap.Error(err))
		writeWebhookResult(w, false)
		return
	}
	writeWebhookResult(w, true)
}

// AdminRedirectHandler 302s the shop admin to the processor's charge detail
// page. No reconciliation happens here.
func (h *PaymentHandler) AdminRedirectHandler(w http.ResponseWriter, r *http.Request) {
	chargeID := r.URL.Query().Get("chargeId")
	if chargeID == "" {
		http.Error(w, "chargeId is required", http.StatusBadRequest)
		return
	}

	charge, err := h.client.RetrieveCharge(r.Context(), chargeID)
	if err != nil {
		h.logger.Error("Failed to retrieve charge for admin redirect", zap.String("charge_id", chargeID), zap.Error(err))
		http.Error(w, "charge lookup failed", http.StatusBadGateway)
		return
	}

	redirectURL := fmt.Sprintf("%s/apps/%s/gw/payment/charges/%s", h.adminHost, charge.AppID, chargeID)
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// PaymentMethodsHandler serves the resolved method catalog as plain data for
// the shop's presentation layer.
func (h *PaymentHandler) PaymentMethodsHandler(w http.ResponseWriter, r *http.Request) {
	methods, err := h.catalogSvc.Resolve(r.Context())
	if err != nil {
		h.logger.Error("Failed to resolve payment method catalog", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(methods); err != nil {
		h.logger.Error("Failed to write JSON response", zap.Error(err))
	}
}

// OrderChargeHandler returns the charge id recorded for an order, used by the
// admin UI to build refund links.
func (h *PaymentHandler) OrderChargeHandler(w http.ResponseWriter, r *http.Request) {
	orderIDStr := chi.URLParam(r, "id")
	orderID, err := strconv.ParseInt(orderIDStr, 10, 64)
	if err != nil {
		http.Error(w, "Invalid order id", http.StatusBadRequest)
		return
	}

	mapping, err := h.chargeRepo.GetByOrderIDTx(r.Context(), h.db, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "No charge recorded for order", http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to look up charge mapping", zap.Int64("order_id", orderID), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	resp := struct {
		OrderID  int64  `json:"order_id"`
		ChargeID string `json:"charge_id"`
	}{OrderID: mapping.OrderID, ChargeID: mapping.ChargeID}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to write JSON response", zap.Error(err))
	}
}

// completeURL carries the order number to the complete page; the bridge keeps
// no session, so the confirmation page resolves the order from the query.
func (h *PaymentHandler) completeURL(orderNo string) string {
	u, err := url.Parse(h.shopURLs.Complete)
	if err != nil {
		return h.shopURLs.Complete
	}
	q := u.Query()
	q.Set("orderNo", orderNo)
	u.RawQuery = q.Encode()
	return u.String()
}

func writeWebhookResult(w http.ResponseWriter, ok bool) {
	if ok {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("success"))
		return
	}
	w.WriteHeader(http.StatusBadRequest)
	w.Write([]byte("error"))
}
