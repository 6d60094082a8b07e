// Would have been internal if only it wasnt reserved keyword
package inner

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/blocknative/devnode/snapshot"
)

var ErrUnknownKey = errors.New("unknown key")

// Toggles are the runtime switches operators may flip.
type Toggles interface {
	GetBool(key string) (bool, error)
	SetBool(key string, val bool) error
	Keys() []string
}

type Snapshotter interface {
	Snapshots() map[snapshot.ID]uint64
}

type API struct {
	cfg   Toggles
	snaps Snapshotter
}

func NewAPI(cfg Toggles, snaps Snapshotter) *API {
	return &API{cfg: cfg, snaps: snaps}
}

func (a *API) AttachToHandler(m *http.ServeMux) {
	m.HandleFunc("/services/status", a.getStatus)
	m.HandleFunc("/services/set", a.setToggles)
	m.HandleFunc("/snapshots", a.getSnapshots)
}

type Status struct {
	Services map[string]bool `json:"services"`
}

func (a *API) getStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	st := Status{Services: make(map[string]bool)}
	for _, k := range a.cfg.Keys() {
		v, err := a.cfg.GetBool(k)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error": "wrong configuration"}`))
			return
		}
		st.Services[k] = v
	}

	json.NewEncoder(w).Encode(st)
}

func (a *API) setToggles(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	for k, v := range r.URL.Query() {
		if len(v) != 1 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error": "wrong parameter count"}`))
			return
		}

		var val bool
		switch strings.ToLower(v[0]) {
		case "true", "1":
			val = true
		case "false", "0":
		default:
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error": "wrong parameter"}`))
			return
		}

		if err := a.cfg.SetBool(k, val); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error": "key not found"}`))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

type SnapshotEntry struct {
	ID     uint64 `json:"id"`
	Height uint64 `json:"height"`
}

func (a *API) getSnapshots(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	snaps := a.snaps.Snapshots()
	out := make([]SnapshotEntry, 0, len(snaps))
	for id, h := range snaps {
		out = append(out, SnapshotEntry{ID: uint64(id), Height: h})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	json.NewEncoder(w).Encode(out)
}
