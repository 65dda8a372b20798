package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"bidflow.org/internal/obs"
	"bidflow.org/internal/stream"
)

// streamBuyerEvents serves the buyer's live feed for one auction over SSE.
func (a *API) streamBuyerEvents(w http.ResponseWriter, r *http.Request, auctionID string) {
	if _, ok := a.ownedAuction(w, r, auctionID); !ok {
		return
	}
	a.serveSSE(w, r, stream.BuyerRoom(auctionID))
}

// streamSupplierEvents serves one supplier's private feed over SSE.
func (a *API) streamSupplierEvents(w http.ResponseWriter, r *http.Request, token string) {
	if _, err := a.engine.SupplierView(r.Context(), token); err != nil {
		handleAuctionError(w, r, err)
		return
	}
	a.serveSSE(w, r, stream.SupplierRoom(token))
}

func (a *API) serveSSE(w http.ResponseWriter, r *http.Request, room string) {
	if a.hub == nil {
		http.Error(w, "streaming disabled", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.hub.Subscribe(ctx, room)
	obs.SetStreamSubscribers(a.hub.Subscribers())
	defer func() { obs.SetStreamSubscribers(a.hub.Subscribers()) }()

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for event := range ch {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("event: "))
		_, _ = w.Write([]byte(event.Type))
		_, _ = w.Write([]byte("\ndata: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}
