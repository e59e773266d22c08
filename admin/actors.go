package admin

import (
	"context"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/maxpert/durasql/actor"
	"github.com/maxpert/durasql/storage"
)

type sqlRequest struct {
	SQL    string        `json:"sql"`
	Params []interface{} `json:"params"`
}

type sqlResult struct {
	Columns  []string                 `json:"columns"`
	Rows     []map[string]interface{} `json:"rows"`
	RowsRead int                      `json:"rows_read"`
}

type abortRequest struct {
	Reason string `json:"reason"`
}

type limitRequest struct {
	LimitBytes int64 `json:"limit_bytes"`
}

type sizeResult struct {
	SizeBytes  int64 `json:"size_bytes"`
	LimitBytes int64 `json:"limit_bytes"`
}

// handleListActors handles GET /admin/actors
func (h *AdminHandlers) handleListActors(w http.ResponseWriter, r *http.Request) {
	active := make(map[string]bool)
	for _, id := range h.host.Active() {
		active[id] = true
	}

	result := make([]map[string]interface{}, 0, len(active))
	if h.catalog != nil {
		records, err := h.catalog.List()
		if err != nil {
			writeError(w, err)
			return
		}
		for _, rec := range records {
			result = append(result, map[string]interface{}{
				"id":                rec.ID,
				"active":            active[rec.ID],
				"opens":             rec.Opens,
				"resets":            rec.Resets,
				"last_opened_at":    formatTimestamp(rec.LastOpenedAt),
				"last_reset_at":     formatTimestamp(rec.LastResetAt),
				"last_reset_reason": rec.LastResetReason,
			})
			delete(active, rec.ID)
		}
	}

	// Live instances the catalog does not know about.
	rest := make([]string, 0, len(active))
	for id := range active {
		rest = append(rest, id)
	}
	sort.Strings(rest)
	for _, id := range rest {
		result = append(result, map[string]interface{}{"id": id, "active": true})
	}

	writeJSONResponse(w, result, false, "")
}

// call runs turn on the actor named in the URL
func (h *AdminHandlers) call(r *http.Request, turn actor.Turn) (interface{}, error) {
	return h.host.Call(r.Context(), chi.URLParam(r, "id"), turn)
}

// handleSQL handles POST /admin/actors/{id}/sql
func (h *AdminHandlers) handleSQL(w http.ResponseWriter, r *http.Request) {
	var req sqlRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.call(r, func(ctx context.Context, s *storage.Storage) (interface{}, error) {
		cursor, err := s.Exec(ctx, req.SQL, req.Params...)
		if err != nil {
			return nil, err
		}
		rows, err := cursor.ToArray()
		if err != nil {
			return nil, err
		}
		return sqlResult{Columns: cursor.ColumnNames(), Rows: rows, RowsRead: cursor.RowsRead()}, nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, result, false, "")
}

// handleListKeys handles GET /admin/actors/{id}/kv
func (h *AdminHandlers) handleListKeys(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	q := r.URL.Query()
	opts := storage.ListOptions{
		Prefix:  q.Get("prefix"),
		Start:   q.Get("start"),
		End:     q.Get("end"),
		Reverse: q.Get("reverse") == "true",
		// One extra entry tells whether there is more.
		Limit: limit + 1,
	}

	result, err := h.call(r, func(ctx context.Context, s *storage.Storage) (interface{}, error) {
		return s.List(ctx, opts)
	})
	if err != nil {
		writeError(w, err)
		return
	}

	entries := result.([]storage.KV)
	hasMore := len(entries) > limit
	if hasMore {
		entries = entries[:limit]
	}

	data := make([]map[string]interface{}, len(entries))
	lastKey := ""
	for i, e := range entries {
		data[i] = map[string]interface{}{"key": e.Key, "value": e.Value}
		lastKey = e.Key
	}
	if !hasMore {
		lastKey = ""
	}
	writeJSONResponse(w, data, hasMore, lastKey)
}

// handleGetKey handles GET /admin/actors/{id}/kv/{key}
func (h *AdminHandlers) handleGetKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	type found struct {
		value interface{}
		ok    bool
	}

	result, err := h.call(r, func(ctx context.Context, s *storage.Storage) (interface{}, error) {
		v, ok, err := s.Get(ctx, key)
		return found{value: v, ok: ok}, err
	})
	if err != nil {
		writeError(w, err)
		return
	}

	f := result.(found)
	if !f.ok {
		writeErrorResponse(w, http.StatusNotFound, "key not found")
		return
	}
	writeJSONResponse(w, map[string]interface{}{"key": key, "value": f.value}, false, "")
}

// handlePutKey handles PUT /admin/actors/{id}/kv/{key}
func (h *AdminHandlers) handlePutKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var value interface{}
	if err := decodeBody(w, r, &value); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	_, err := h.call(r, func(ctx context.Context, s *storage.Storage) (interface{}, error) {
		return nil, s.Put(ctx, key, value)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, map[string]interface{}{"key": key}, false, "")
}

// handleDeleteKey handles DELETE /admin/actors/{id}/kv/{key}
func (h *AdminHandlers) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	result, err := h.call(r, func(ctx context.Context, s *storage.Storage) (interface{}, error) {
		return s.Delete(ctx, key)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, map[string]interface{}{"key": key, "deleted": result}, false, "")
}

// handleAbort handles POST /admin/actors/{id}/abort
func (h *AdminHandlers) handleAbort(w http.ResponseWriter, r *http.Request) {
	req := abortRequest{Reason: "aborted by operator"}
	if r.ContentLength > 0 {
		if err := decodeBody(w, r, &req); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	id := chi.URLParam(r, "id")
	if err := h.host.Abort(r.Context(), id, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, map[string]interface{}{"id": id, "reset": true}, false, "")
}

// handleSize handles GET /admin/actors/{id}/size
func (h *AdminHandlers) handleSize(w http.ResponseWriter, r *http.Request) {
	result, err := h.call(r, func(ctx context.Context, s *storage.Storage) (interface{}, error) {
		size, err := s.DatabaseSize()
		return sizeResult{SizeBytes: size, LimitBytes: s.VoluntarySizeLimit()}, err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, result, false, "")
}

// handleSetLimit handles PUT /admin/actors/{id}/limit
func (h *AdminHandlers) handleSetLimit(w http.ResponseWriter, r *http.Request) {
	var req limitRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.LimitBytes < 0 {
		writeErrorResponse(w, http.StatusBadRequest, "limit_bytes must be >= 0, got "+strconv.FormatInt(req.LimitBytes, 10))
		return
	}

	result, err := h.call(r, func(ctx context.Context, s *storage.Storage) (interface{}, error) {
		if err := s.SetVoluntarySizeLimit(req.LimitBytes); err != nil {
			return nil, err
		}
		size, err := s.DatabaseSize()
		return sizeResult{SizeBytes: size, LimitBytes: s.VoluntarySizeLimit()}, err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, result, false, "")
}
