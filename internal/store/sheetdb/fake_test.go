package sheetdb

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// fakeSheet mimics the SheetDB REST surface for one directory sheet and one log sheet.
type fakeSheet struct {
	mu sync.Mutex

	rows    []map[string]any
	logRows []map[string]any

	searches int
	patches  int
	posts    int

	// searchStatus, when non-empty, is consumed one status per search request.
	searchStatus []int
	patchBody    string
	postBody     string
	lastPatch    map[string]any
	lastAuth     string
	lastCacheCtl string
}

func newFakeSheet(t *testing.T, rows ...map[string]any) (*fakeSheet, *httptest.Server) {
	t.Helper()

	f := &fakeSheet{rows: rows}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/search", f.search)
	mux.HandleFunc("PATCH /api/token/{token}", f.patch)
	mux.HandleFunc("POST /log", f.post)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeSheet) search(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.searches++
	f.lastAuth = r.Header.Get("Authorization")
	f.lastCacheCtl = r.Header.Get("Cache-Control")

	if len(f.searchStatus) > 0 {
		status := f.searchStatus[0]
		f.searchStatus = f.searchStatus[1:]
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
	}

	token := r.URL.Query().Get("token")
	cpf, filterCPF := r.URL.Query().Get("cpf"), r.URL.Query().Has("cpf")

	matches := []map[string]any{}
	for _, row := range f.rows {
		if row["token"] != token {
			continue
		}
		if filterCPF && row["cpf"] != cpf {
			continue
		}
		matches = append(matches, row)
	}
	writeJSON(w, http.StatusOK, matches)
}

func (f *fakeSheet) patch(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.patches++
	if f.patchBody != "" {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(f.patchBody))
		return
	}

	var body envelope
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	f.lastPatch = body.Data

	updated := 0
	for _, row := range f.rows {
		if row["token"] == r.PathValue("token") {
			for k, v := range body.Data {
				row[k] = v
			}
			updated++
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

func (f *fakeSheet) post(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.posts++
	if f.postBody != "" {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(f.postBody))
		return
	}

	var body envelope
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	f.logRows = append(f.logRows, body.Data)
	writeJSON(w, http.StatusCreated, map[string]int{"created": 1})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
