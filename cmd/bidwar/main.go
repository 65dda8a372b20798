// Command bidwar simulates a live bidding war against a running
// bidflow-api: it registers a buyer, creates an auction with synthetic
// suppliers and lets concurrent workers undercut each other until the
// deadline.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"bidflow.org/internal/sim"
)

func main() {
	var (
		baseURL     = flag.String("base-url", "http://localhost:8080", "API base URL")
		ceiling     = flag.Int64("ceiling", 10_000, "Ceiling unit price in major units")
		step        = flag.Int64("step", 100, "Minimum decrement in major units")
		duration    = flag.Duration("duration", 2*time.Minute, "Duration of the simulation")
		openAIModel = flag.String("openai-model", "gpt-4o-mini", "OpenAI model for summaries (optional)")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	generator := sim.NewGenerator(time.Now().UnixNano())
	suppliers := generator.Suppliers()
	log.Printf("Launching bid war: base=%s suppliers=%d ceiling=%d step=%d duration=%s",
		*baseURL, len(suppliers), *ceiling, *step, *duration)

	client := &http.Client{Timeout: 10 * time.Second}
	buyerToken, err := registerBuyer(ctx, client, *baseURL)
	if err != nil {
		log.Fatalf("register buyer: %v", err)
	}

	auctionID, tokens, err := createAuction(ctx, client, *baseURL, buyerToken, suppliers, *ceiling, *step)
	if err != nil {
		log.Fatalf("create auction: %v", err)
	}
	if err := post(ctx, client, *baseURL+"/v1/auctions/"+auctionID+"/start", buyerToken, nil, nil); err != nil {
		log.Fatalf("start auction: %v", err)
	}

	var (
		mu      sync.Mutex
		counter sim.Counter

		rejected    int64
		rateLimited int64
		closed      int64
	)

	// Lowest accepted unit price seen so far, in major units. Workers
	// undercut from here; rejections carry the server's max allowed
	// price, which resynchronizes a stale floor.
	var floor atomic.Int64
	floor.Store(*ceiling)

	var wg sync.WaitGroup
	deadline := time.Now().Add(*duration)

	for i, s := range suppliers {
		wg.Add(1)
		go func(idx int, s sim.Supplier, token string) {
			defer wg.Done()
			gen := sim.NewGenerator(time.Now().UnixNano() + int64(idx*9973))
			for time.Now().Before(deadline) {
				select {
				case <-ctx.Done():
					return
				default:
				}

				intent := gen.NextIntent(idx)
				price := floor.Load() - intent.StepsBelow**step
				if price <= 0 {
					return
				}

				result, err := submitBid(ctx, client, *baseURL, token, price, intent)
				if err != nil {
					log.Printf("%s: submit: %v", s.Name, err)
					return
				}
				switch {
				case result.accepted:
					lowerFloor(&floor, price)
					mu.Lock()
					counter.Add(price*100, result.extended)
					mu.Unlock()
				case result.status == http.StatusBadRequest:
					atomic.AddInt64(&rejected, 1)
					// maxAllowed is leader price minus one step, so the
					// actual floor sits one step above it.
					if result.maxAllowed > 0 {
						lowerFloor(&floor, result.maxAllowed+*step)
					}
				case result.status == http.StatusTooManyRequests:
					atomic.AddInt64(&rateLimited, 1)
					time.Sleep(250 * time.Millisecond)
				case result.status == http.StatusConflict:
					// Auction ended or was terminated.
					atomic.AddInt64(&closed, 1)
					return
				default:
					log.Printf("%s: bid failed with status %d", s.Name, result.status)
					time.Sleep(200 * time.Millisecond)
				}
				time.Sleep(time.Duration(intent.PauseMS) * time.Millisecond)
			}
		}(i, s, tokens[i])
	}

	wg.Wait()

	log.Printf("Run complete: %d accepted / %d rejected (rate_limited=%d), final L1 %.2f of ceiling %d, extensions=%d",
		counter.Bids, rejected, rateLimited, counter.FloorMajor(), *ceiling, counter.Extensions)
	printLeaderboard(ctx, client, *baseURL, buyerToken, auctionID)

	if key := os.Getenv("OPENAI_API_KEY"); key != "" && counter.Bids > 0 {
		summary, err := sim.Summarize(ctx, sim.SummaryStats{
			Bids:       counter.Bids,
			FloorPrice: counter.FloorMajor(),
			Ceiling:    float64(*ceiling),
			Extensions: counter.Extensions,
			Duration:   *duration,
		}, sim.SummaryRequest{APIKey: key, Model: *openAIModel})
		if err != nil {
			log.Printf("AI summary error: %v", err)
		} else {
			log.Println("AI Executive Summary:")
			log.Println(summary)
		}
	}
}

func lowerFloor(floor *atomic.Int64, price int64) {
	for {
		cur := floor.Load()
		if price >= cur || floor.CompareAndSwap(cur, price) {
			return
		}
	}
}

type bidResult struct {
	accepted   bool
	extended   bool
	status     int
	maxAllowed int64 // major units, from validation rejections
}

func submitBid(ctx context.Context, client *http.Client, baseURL, token string, price int64, intent sim.BidIntent) (bidResult, error) {
	body, _ := json.Marshal(map[string]any{
		"item_prices":   []map[string]any{{"item_code": "I1", "unit_price": price}},
		"delivery_days": intent.DeliveryDays,
		"remarks":       intent.Remark,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/supplier/"+token+"/bid", bytes.NewReader(body))
	if err != nil {
		return bidResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return bidResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		var receipt struct {
			ExtendedUntil *time.Time `json:"extended_until"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&receipt)
		return bidResult{accepted: true, extended: receipt.ExtendedUntil != nil, status: resp.StatusCode}, nil
	}

	var detail struct {
		Limit float64 `json:"limit"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&detail)
	return bidResult{status: resp.StatusCode, maxAllowed: int64(detail.Limit)}, nil
}

func registerBuyer(ctx context.Context, client *http.Client, baseURL string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	err := post(ctx, client, baseURL+"/v1/auth/register", "", map[string]any{
		"email":    fmt.Sprintf("bidwar-%s@example.com", uuid.NewString()),
		"name":     "Bid War Operator",
		"company":  "Simulation",
		"password": uuid.NewString(),
	}, &out)
	if err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", errors.New("empty token returned")
	}
	return out.Token, nil
}

func createAuction(ctx context.Context, client *http.Client, baseURL, buyerToken string, suppliers []sim.Supplier, ceiling, step int64) (string, []string, error) {
	invited := make([]map[string]any, 0, len(suppliers))
	for i, s := range suppliers {
		invited = append(invited, map[string]any{
			"name":  s.Name,
			"email": fmt.Sprintf("supplier-%d@example.com", i),
		})
	}
	var created struct {
		ID        string `json:"id"`
		Suppliers []struct {
			Token string `json:"token"`
		} `json:"suppliers"`
	}
	err := post(ctx, client, baseURL+"/v1/auctions", buyerToken, map[string]any{
		"title":            "Simulated procurement",
		"reference_number": "SIM-" + uuid.NewString()[:8],
		"items": []map[string]any{
			{"item_code": "I1", "description": "simulated item", "quantity": 100, "unit": "pcs"},
		},
		"suppliers": invited,
		"config": map[string]any{
			"ceiling_price":    ceiling,
			"min_decrement":    step,
			"duration_minutes": 60,
			"buffer_minutes":   2,
		},
	}, &created)
	if err != nil {
		return "", nil, err
	}
	tokens := make([]string, len(created.Suppliers))
	for i, s := range created.Suppliers {
		tokens[i] = s.Token
	}
	return created.ID, tokens, nil
}

func printLeaderboard(ctx context.Context, client *http.Client, baseURL, buyerToken, auctionID string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/auctions/"+auctionID+"/bids", nil)
	if err != nil {
		return
	}
	req.Header.Set("Authorization", "Bearer "+buyerToken)
	resp, err := client.Do(req)
	if err != nil {
		log.Printf("leaderboard: %v", err)
		return
	}
	defer resp.Body.Close()
	var board struct {
		Bids []struct {
			Rank         int     `json:"rank"`
			SupplierName string  `json:"supplier_name"`
			TotalAmount  float64 `json:"total_amount"`
		} `json:"bids"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&board); err != nil {
		log.Printf("leaderboard: decode: %v", err)
		return
	}
	for _, b := range board.Bids {
		log.Printf("  #%d %-24s %.2f", b.Rank, b.SupplierName, b.TotalAmount)
	}
}

func post(ctx context.Context, client *http.Client, url, bearer string, body, dst any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s: %d %s", url, resp.StatusCode, e.Error)
	}
	if dst != nil {
		return json.NewDecoder(resp.Body).Decode(dst)
	}
	return nil
}
