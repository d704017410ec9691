package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luoyjx/crdt-dict/server"
)

// keyResponse is the JSON body for single-key reads and writes.
type keyResponse struct {
	Key      string `json:"key"`
	Value    string `json:"value,omitempty"`
	Previous string `json:"previous,omitempty"`
	Existed  bool   `json:"existed"`
}

// statsResponse summarizes the dictionary state.
type statsResponse struct {
	ReplicaID       string `json:"replica_id"`
	Size            int    `json:"size"`
	SizeWithRemoved int    `json:"size_with_removed"`
	Empty           bool   `json:"empty"`
}

// NewRouter wires the admin/debug HTTP surface: key CRUD, stats, the
// snapshot exchange used to converge replicas, and Prometheus metrics.
func NewRouter(srv *server.Server, logger log.Logger) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, statsResponse{
			ReplicaID:       srv.ReplicaID(),
			Size:            srv.Size(),
			SizeWithRemoved: srv.SizeWithRemoved(),
			Empty:           srv.IsEmpty(),
		})
	})

	r.Get("/keys", func(w http.ResponseWriter, req *http.Request) {
		keys := srv.Keys()
		if keys == nil {
			keys = []string{}
		}
		writeJSON(w, http.StatusOK, map[string][]string{"keys": keys})
	})

	r.Get("/keys/{key}", func(w http.ResponseWriter, req *http.Request) {
		key := chi.URLParam(req, "key")
		value, ok := srv.Get(key)
		if !ok {
			writeError(w, http.StatusNotFound, "key not found")
			return
		}
		writeJSON(w, http.StatusOK, keyResponse{Key: key, Value: value, Existed: true})
	})

	r.Put("/keys/{key}", func(w http.ResponseWriter, req *http.Request) {
		key := chi.URLParam(req, "key")

		body, err := io.ReadAll(req.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read body")
			return
		}

		ts, err := timestampParam(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		prev, had, err := srv.Set(key, string(body), ts)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, keyResponse{Key: key, Previous: prev, Existed: had})
	})

	r.Delete("/keys/{key}", func(w http.ResponseWriter, req *http.Request) {
		key := chi.URLParam(req, "key")

		ts, err := timestampParam(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		removed, err := srv.Del([]string{key}, ts)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, keyResponse{Key: key, Existed: removed > 0})
	})

	r.Get("/snapshot", func(w http.ResponseWriter, req *http.Request) {
		data, err := srv.Dump()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	})

	r.Post("/merge", func(w http.ResponseWriter, req *http.Request) {
		payload, err := io.ReadAll(req.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read body")
			return
		}
		if err := srv.Merge(payload); err != nil {
			level.Warn(logger).Log("msg", "merge rejected", "err", err)
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "merged"})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// timestampParam reads the optional ?ts= query parameter.
func timestampParam(req *http.Request) (*int64, error) {
	raw := req.URL.Query().Get("ts")
	if raw == "" {
		return nil, nil
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
