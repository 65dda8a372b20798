package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                "/",
		"/metrics":                        "/metrics",
		"/v1/auctions":                    "/v1/auctions",
		"/v1/auctions/abc":                "/v1/auctions/:id",
		"/v1/auctions/abc/bids":           "/v1/auctions/:id/bids",
		"/v1/auctions/abc/history":        "/v1/auctions/:id/history",
		"/v1/supplier/tok123":             "/v1/supplier/:token",
		"/v1/supplier/tok123/bid":         "/v1/supplier/:token/bid",
		"/v1/auctions/abc/bids?limit=10":  "/v1/auctions/:id/bids",
		"/v1/auth/login":                  "/v1/auth/login",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
