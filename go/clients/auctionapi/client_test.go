package auctionapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidhaus/bidhaus/go/internal/auction"
)

func TestGetAuction(t *testing.T) {
	snap := auction.Snapshot{
		ID:           "a1",
		Title:        "vintage synth",
		CurrentPrice: 120,
		Phase:        auction.PhaseActive,
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auctions/a1", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"status": true, "data": snap})
	}))
	defer srv.Close()

	got, err := NewClient(srv.URL).GetAuction(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ID)
	assert.Equal(t, float64(120), got.CurrentPrice)
	assert.Equal(t, auction.PhaseActive, got.Phase)
}

func TestGetAuctionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"status": false, "message": "auction not found"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).GetAuction(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auction not found")
}

func TestListAuctionsParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "2", q.Get("page"))
		assert.Equal(t, "10", q.Get("limit"))
		assert.Equal(t, "synth", q.Get("search"))
		assert.Equal(t, "active", q.Get("status"))
		assert.Equal(t, "endTime", q.Get("sortBy"))
		assert.Equal(t, "asc", q.Get("sortOrder"))
		json.NewEncoder(w).Encode(map[string]any{"status": true, "data": auction.Page{
			Items:       []*auction.Snapshot{{ID: "a1"}},
			CurrentPage: 2,
			TotalPages:  3,
			TotalItems:  25,
		}})
	}))
	defer srv.Close()

	page, err := NewClient(srv.URL).ListAuctions(context.Background(), auction.ListParams{
		Page:      2,
		Limit:     10,
		Search:    "synth",
		Status:    "active",
		SortBy:    "endTime",
		SortOrder: "asc",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, page.CurrentPage)
	assert.Equal(t, 25, page.TotalItems)
	require.Len(t, page.Items, 1)
}

func TestCreateAuctionSendsIdentityHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "u1", r.Header.Get("X-User-Id"))

		var req auction.CreateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "vintage synth", req.Title)

		json.NewEncoder(w).Encode(map[string]any{"status": true, "data": auction.Snapshot{
			ID:    "a1",
			Title: req.Title,
			Phase: auction.PhasePending,
		}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.SetHeader("X-User-Id", "u1")

	now := time.Now()
	snap, err := c.CreateAuction(context.Background(), auction.CreateRequest{
		Title:         "vintage synth",
		StartingPrice: 100,
		StartTime:     now.Add(time.Hour),
		EndTime:       now.Add(2 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, auction.PhasePending, snap.Phase)
}

func TestUpdateAuctionPatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/auctions/a1", r.URL.Path)

		var patch auction.Patch
		require.NoError(t, json.NewDecoder(r.Body).Decode(&patch))
		require.NotNil(t, patch.Title)
		assert.Nil(t, patch.Description, "unset fields stay out of the patch")

		json.NewEncoder(w).Encode(map[string]any{"status": true, "data": auction.Snapshot{
			ID:    "a1",
			Title: *patch.Title,
			Phase: auction.PhasePending,
		}})
	}))
	defer srv.Close()

	title := "vintage synth (serviced)"
	snap, err := NewClient(srv.URL).UpdateAuction(context.Background(), "a1", auction.Patch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, title, snap.Title)
}
