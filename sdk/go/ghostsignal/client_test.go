package ghostsignal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestActivityEncodesQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/activity" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("limit") != "10" || r.URL.Query().Get("since") != "42" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode([]Event{
			{Seq: 44, Type: "verify", AgentID: "Alpha", Outcome: "win", Receipt: &Receipt{TxID: "0x3"}},
			{Seq: 43, Type: "reveal", AgentID: "Alpha", Receipt: &Receipt{TxID: "sim-reveal", Simulated: true}},
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	events, err := client.Activity(context.Background(), ActivityQuery{Limit: 10, Since: 42})
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	if len(events) != 2 || events[0].Seq != 44 || !events[1].Receipt.Simulated {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestLeaderboardAndStats(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/leaderboard", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "win_rate" {
			t.Errorf("unexpected key: %s", r.URL.Query().Get("key"))
		}
		_ = json.NewEncoder(w).Encode([]AgentSummary{{AgentID: "Alpha", WinRate: 75}})
	})
	mux.HandleFunc("/api/v1/stats", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(Stats{TotalSignals: 3, SimulatedReceipts: 1})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	board, err := client.Leaderboard(context.Background(), "win_rate")
	if err != nil || len(board) != 1 || board[0].WinRate != 75 {
		t.Fatalf("unexpected leaderboard %+v (%v)", board, err)
	}
	stats, err := client.Stats(context.Background())
	if err != nil || stats.TotalSignals != 3 || stats.SimulatedReceipts != 1 {
		t.Fatalf("unexpected stats %+v (%v)", stats, err)
	}
}

func TestTriggerCycleAndPurchase(t *testing.T) {
	var triggered string
	var purchase Purchase
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/agents/{id}/cycles", func(w http.ResponseWriter, r *http.Request) {
		triggered = r.PathValue("id")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"status":"queued"}`))
	})
	mux.HandleFunc("POST /api/v1/purchases", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&purchase); err != nil {
			t.Errorf("decode purchase: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	if err := client.TriggerCycle(context.Background(), "Alpha"); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if triggered != "Alpha" {
		t.Fatalf("unexpected triggered agent %q", triggered)
	}
	if err := client.RecordPurchase(context.Background(), Purchase{AgentID: "Bravo", CommitmentID: "c-1", Amount: 25}); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if purchase.CommitmentID != "c-1" || purchase.Amount != 25 {
		t.Fatalf("unexpected purchase payload %+v", purchase)
	}
}

func TestErrorsDecodeIntoAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"UNKNOWN_AGENT","message":"agent Nobody not found"}`))
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	_, err := client.Agent(context.Background(), "Nobody")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "UNKNOWN_AGENT" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}
