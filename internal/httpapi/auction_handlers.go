package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"bidflow.org/internal/auction"
	"bidflow.org/internal/audit"
	"bidflow.org/internal/auth"
	"bidflow.org/internal/obs"
)

type createAuctionRequest struct {
	Title            string             `json:"title"`
	ReferenceNumber  string             `json:"reference_number"`
	Description      string             `json:"description"`
	PaymentTerms     string             `json:"payment_terms"`
	DeliveryTerms    string             `json:"delivery_terms"`
	FreightCondition string             `json:"freight_condition"`
	Items            []auction.Item     `json:"items"`
	Suppliers        []auction.Supplier `json:"suppliers"`
	Config           auction.Config     `json:"config"`
}

type submitBidRequest struct {
	ItemPrices     []auction.ItemBid `json:"item_prices"`
	DeliveryDays   int               `json:"delivery_days"`
	WarrantyMonths *int              `json:"warranty_months"`
	Remarks        string            `json:"remarks"`
}

type bidReceiptResponse struct {
	auction.BidReceipt
	Color string `json:"color"`
}

func (a *API) handleAuctionsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createAuction(w, r)
	case http.MethodGet:
		a.listAuctions(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleAuctionResource dispatches /v1/auctions/{id} and its subresources.
func (a *API) handleAuctionResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/auctions/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	id, rest, _ := strings.Cut(path, "/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch rest {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getAuction(w, r, id)
	case "start":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.startAuction(w, r, id)
	case "terminate":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.terminateAuction(w, r, id)
	case "bids":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getLeaderboard(w, r, id)
	case "history":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getHistory(w, r, id)
	case "events":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.streamBuyerEvents(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// handleSupplierResource dispatches /v1/supplier/{token} and subresources.
// The token in the path is the supplier's only credential.
func (a *API) handleSupplierResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/supplier/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	token, rest, _ := strings.Cut(path, "/")
	if token == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch rest {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getSupplierView(w, r, token)
	case "bid":
		switch r.Method {
		case http.MethodGet:
			a.getSupplierBid(w, r, token)
		case http.MethodPost:
			a.submitBid(w, r, token)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		}
	case "events":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.streamSupplierEvents(w, r, token)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) createAuction(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req createAuctionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	created, err := a.engine.CreateAuction(r.Context(), auction.CreateAuctionInput{
		BuyerID:          buyerID,
		Title:            req.Title,
		ReferenceNumber:  req.ReferenceNumber,
		Description:      req.Description,
		PaymentTerms:     req.PaymentTerms,
		DeliveryTerms:    req.DeliveryTerms,
		FreightCondition: req.FreightCondition,
		Items:            req.Items,
		Suppliers:        req.Suppliers,
		Config:           req.Config,
	})
	if err != nil {
		handleAuctionError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auction.create", map[string]any{
		"auction_id": created.ID,
		"title":      created.Title,
		"suppliers":  len(created.Suppliers),
	})

	w.Header().Set("Location", "/v1/auctions/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) listAuctions(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	all, err := a.engine.ListAuctions(r.Context())
	if err != nil {
		handleAuctionError(w, r, err)
		return
	}
	mine := make([]auction.AuctionSummary, 0, len(all))
	for _, s := range all {
		if s.BuyerID == buyerID {
			mine = append(mine, s)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": mine,
		"as_of": time.Now().UTC(),
	})
}

// ownedAuction loads the auction and verifies the requesting buyer owns it.
func (a *API) ownedAuction(w http.ResponseWriter, r *http.Request, id string) (auction.Auction, bool) {
	buyerID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return auction.Auction{}, false
	}
	got, err := a.engine.GetAuction(r.Context(), id)
	if err != nil {
		handleAuctionError(w, r, err)
		return auction.Auction{}, false
	}
	if got.BuyerID != buyerID {
		writeError(w, r, http.StatusForbidden, "auction belongs to another buyer")
		return auction.Auction{}, false
	}
	return got, true
}

func (a *API) getAuction(w http.ResponseWriter, r *http.Request, id string) {
	got, ok := a.ownedAuction(w, r, id)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, got)
}

func (a *API) startAuction(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := a.ownedAuction(w, r, id); !ok {
		return
	}
	end, err := a.engine.StartAuction(r.Context(), id)
	if err != nil {
		handleAuctionError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auction.start", map[string]any{
		"auction_id": id,
		"end_time":   end.Format(time.RFC3339Nano),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   auction.StatusActive,
		"end_time": end,
	})
}

func (a *API) terminateAuction(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := a.ownedAuction(w, r, id); !ok {
		return
	}
	if err := a.engine.TerminateAuction(r.Context(), id); err != nil {
		handleAuctionError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auction.terminate", map[string]any{"auction_id": id})
	writeJSON(w, http.StatusOK, map[string]any{"status": auction.StatusCompleted})
}

func (a *API) getLeaderboard(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := a.ownedAuction(w, r, id); !ok {
		return
	}
	rows, err := a.engine.GetLeaderboard(r.Context(), id)
	if err != nil {
		handleAuctionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bids": rows})
}

func (a *API) getHistory(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := a.ownedAuction(w, r, id); !ok {
		return
	}
	entries, err := a.engine.GetHistory(r.Context(), id)
	if err != nil {
		handleAuctionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

func (a *API) getSupplierView(w http.ResponseWriter, r *http.Request, token string) {
	view, err := a.engine.SupplierView(r.Context(), token)
	if err != nil {
		handleAuctionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) getSupplierBid(w http.ResponseWriter, r *http.Request, token string) {
	view, err := a.engine.SupplierView(r.Context(), token)
	if err != nil {
		handleAuctionError(w, r, err)
		return
	}
	bid, err := a.engine.GetSupplierBid(r.Context(), view.AuctionID, token)
	if err != nil {
		handleAuctionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bid)
}

func (a *API) submitBid(w http.ResponseWriter, r *http.Request, token string) {
	view, err := a.engine.SupplierView(r.Context(), token)
	if err != nil {
		handleAuctionError(w, r, err)
		return
	}
	var req submitBidRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	receipt, err := a.engine.SubmitBid(r.Context(), auction.SubmitBidInput{
		AuctionID:      view.AuctionID,
		SupplierToken:  token,
		ItemPrices:     req.ItemPrices,
		DeliveryDays:   req.DeliveryDays,
		WarrantyMonths: req.WarrantyMonths,
		Remarks:        req.Remarks,
	})
	if err != nil {
		obs.BidRejected(rejectionReason(err))
		handleAuctionError(w, r, err)
		return
	}
	obs.BidAccepted()
	if receipt.ExtendedUntil != nil {
		obs.AuctionExtended()
	}

	_ = audit.LogEvent(r.Context(), "auction.bid.accept", map[string]any{
		"auction_id":   view.AuctionID,
		"bid_id":       receipt.BidID,
		"supplier":     view.Supplier.Name,
		"total_amount": receipt.TotalAmount.String(),
		"rank":         receipt.Rank,
	})

	writeJSON(w, http.StatusOK, bidReceiptResponse{
		BidReceipt: receipt,
		Color:      auction.RankColor(receipt.Rank),
	})
}

func rejectionReason(err error) string {
	var verr *auction.ValidationError
	switch {
	case errors.As(err, &verr):
		return string(verr.Kind)
	case errors.Is(err, auction.ErrNotActive):
		return "auction_not_active"
	case errors.Is(err, auction.ErrUnauthorized):
		return "unknown_token"
	case errors.Is(err, auction.ErrPersistence):
		return "persistence"
	default:
		return "other"
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleAuctionError maps engine errors onto HTTP statuses. Validation
// failures carry machine-readable detail so supplier UIs can show the
// rule that fired and the nearest legal prices.
func handleAuctionError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *auction.ValidationError
	switch {
	case errors.As(err, &verr):
		writeValidationError(w, r, verr)
	case errors.Is(err, auction.ErrInvalidInput), errors.Is(err, auction.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auction.ErrUnauthorized):
		writeError(w, r, http.StatusForbidden, "invalid supplier token")
	case errors.Is(err, auction.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, auction.ErrNotActive), errors.Is(err, auction.ErrInvalidState):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auction.ErrPersistence):
		writeError(w, r, http.StatusServiceUnavailable, "temporary storage failure, retry")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeValidationError(w http.ResponseWriter, r *http.Request, verr *auction.ValidationError) {
	payload := map[string]any{
		"error": verr.Error(),
		"kind":  verr.Kind,
	}
	if verr.ItemCode != "" {
		payload["item_code"] = verr.ItemCode
	}
	if verr.Limit != 0 {
		payload["limit"] = verr.Limit
	}
	if len(verr.NearestValid) > 0 {
		payload["nearest_valid"] = verr.NearestValid
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, http.StatusBadRequest, payload)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
