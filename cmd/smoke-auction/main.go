// Command smoke-auction runs one full bidding round against a live
// bidflow-api instance: register a buyer, create and start an auction,
// submit two competing supplier bids and verify the leaderboard.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"
)

type client struct {
	base  string
	http  *http.Client
	token string
}

func (c *client) do(method, path string, body, dst any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, e.Error)
	}
	if dst != nil {
		return json.NewDecoder(resp.Body).Decode(dst)
	}
	return nil
}

func main() {
	base := os.Getenv("BIDFLOW_API_ADDR")
	if base == "" {
		base = "http://localhost:8080"
	}
	c := &client{base: base, http: &http.Client{Timeout: 10 * time.Second}}

	email := fmt.Sprintf("smoke-%d@example.com", rand.Int())
	var session struct {
		Token string `json:"token"`
	}
	if err := c.do("POST", "/v1/auth/register", map[string]any{
		"email":    email,
		"name":     "Smoke Buyer",
		"company":  "Smoke Co",
		"password": "smoke-password",
	}, &session); err != nil {
		log.Fatalf("register: %v", err)
	}
	c.token = session.Token

	var created struct {
		ID        string `json:"id"`
		Suppliers []struct {
			Name  string `json:"name"`
			Token string `json:"token"`
		} `json:"suppliers"`
	}
	if err := c.do("POST", "/v1/auctions", map[string]any{
		"title":            "Smoke procurement",
		"reference_number": "SMOKE-1",
		"items": []map[string]any{
			{"item_code": "I1", "description": "widget", "quantity": 10, "unit": "pcs"},
		},
		"suppliers": []map[string]any{
			{"name": "Alpha", "email": "alpha@example.com"},
			{"name": "Bravo", "email": "bravo@example.com"},
		},
		"config": map[string]any{
			"ceiling_price":    1000,
			"min_decrement":    50,
			"duration_minutes": 5,
			"buffer_minutes":   1,
		},
	}, &created); err != nil {
		log.Fatalf("create auction: %v", err)
	}
	if len(created.Suppliers) != 2 {
		log.Fatalf("expected 2 supplier tokens, got %d", len(created.Suppliers))
	}

	if err := c.do("POST", "/v1/auctions/"+created.ID+"/start", nil, nil); err != nil {
		log.Fatalf("start: %v", err)
	}

	bid := func(token string, price int) {
		anon := &client{base: base, http: c.http}
		var receipt struct {
			Rank  int    `json:"rank"`
			Color string `json:"color"`
		}
		if err := anon.do("POST", "/v1/supplier/"+token+"/bid", map[string]any{
			"item_prices":   []map[string]any{{"item_code": "I1", "unit_price": price}},
			"delivery_days": 7,
		}, &receipt); err != nil {
			log.Fatalf("bid %d: %v", price, err)
		}
		if receipt.Rank != 1 {
			log.Fatalf("bid %d: rank = %d, want 1", price, receipt.Rank)
		}
	}
	bid(created.Suppliers[0].Token, 950)
	bid(created.Suppliers[1].Token, 900)

	var board struct {
		Bids []struct {
			SupplierName string `json:"supplier_name"`
			Rank         int    `json:"rank"`
		} `json:"bids"`
	}
	if err := c.do("GET", "/v1/auctions/"+created.ID+"/bids", nil, &board); err != nil {
		log.Fatalf("leaderboard: %v", err)
	}
	if len(board.Bids) != 2 || board.Bids[0].SupplierName != "Bravo" {
		log.Fatalf("unexpected leaderboard: %+v", board.Bids)
	}

	if err := c.do("POST", "/v1/auctions/"+created.ID+"/terminate", nil, nil); err != nil {
		log.Fatalf("terminate: %v", err)
	}

	fmt.Printf("✅ bidflow smoke test passed: auction=%s\n", created.ID)
}
