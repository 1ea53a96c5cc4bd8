package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"docsearch/internal/indexer"
	"docsearch/internal/vectorstore"
)

type fakeBackfiller struct {
	stats *indexer.BackfillStats
	err   error
	calls int
}

func (f *fakeBackfiller) IndexAll(ctx context.Context) (*indexer.BackfillStats, error) {
	f.calls++
	return f.stats, f.err
}

func TestBackfillHandler_ServeHTTP(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		backfiller *fakeBackfiller
		wantStatus int
		wantCount  int
		wantCalls  int
	}{
		{
			name:       "successful backfill",
			method:     http.MethodGet,
			backfiller: &fakeBackfiller{stats: &indexer.BackfillStats{Total: 5, Indexed: 3, Skipped: 1, Failed: 1}},
			wantStatus: http.StatusOK,
			wantCount:  3,
			wantCalls:  1,
		},
		{
			name:       "nothing to do",
			method:     http.MethodPost,
			backfiller: &fakeBackfiller{stats: &indexer.BackfillStats{Total: 2, Skipped: 2}},
			wantStatus: http.StatusOK,
			wantCount:  0,
			wantCalls:  1,
		},
		{
			name:       "index unavailable",
			method:     http.MethodGet,
			backfiller: &fakeBackfiller{err: vectorstore.ErrIndexUnavailable},
			wantStatus: http.StatusServiceUnavailable,
			wantCalls:  1,
		},
		{
			name:       "listing fails",
			method:     http.MethodGet,
			backfiller: &fakeBackfiller{err: errors.New("database is locked")},
			wantStatus: http.StatusInternalServerError,
			wantCalls:  1,
		},
		{
			name:       "method not allowed",
			method:     http.MethodDelete,
			backfiller: &fakeBackfiller{},
			wantStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewBackfillHandler(tt.backfiller)

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(tt.method, "/documents/admin/generate-embeddings", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("ServeHTTP() status = %v, want %v", w.Code, tt.wantStatus)
			}
			if tt.backfiller.calls != tt.wantCalls {
				t.Errorf("IndexAll() calls = %d, want %d", tt.backfiller.calls, tt.wantCalls)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			var resp BackfillResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response error = %v", err)
			}
			if !resp.Success || resp.Count != tt.wantCount {
				t.Errorf("ServeHTTP() response = %+v, want success with count %d", resp, tt.wantCount)
			}
			if resp.Stats == nil || resp.Stats.Total != tt.backfiller.stats.Total {
				t.Errorf("ServeHTTP() stats = %+v, want %+v", resp.Stats, tt.backfiller.stats)
			}
		})
	}
}
