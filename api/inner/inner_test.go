package inner_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blocknative/devnode/api/inner"
	"github.com/blocknative/devnode/snapshot"
)

type toggles map[string]bool

func (t toggles) GetBool(k string) (bool, error) {
	v, ok := t[k]
	if !ok {
		return false, inner.ErrUnknownKey
	}
	return v, nil
}

func (t toggles) SetBool(k string, v bool) error {
	if _, ok := t[k]; !ok {
		return inner.ErrUnknownKey
	}
	t[k] = v
	return nil
}

func (t toggles) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	return keys
}

type snaps map[snapshot.ID]uint64

func (s snaps) Snapshots() map[snapshot.ID]uint64 { return s }

func newMux(t toggles, s snaps) *http.ServeMux {
	m := http.NewServeMux()
	inner.NewAPI(t, s).AttachToHandler(m)
	return m
}

func TestStatusAndToggle(t *testing.T) {
	t.Parallel()

	tg := toggles{"loggingEnabled": true}
	m := newMux(tg, snaps{})

	w := httptest.NewRecorder()
	m.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/services/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"services":{"loggingEnabled":true}}`, w.Body.String())

	w = httptest.NewRecorder()
	m.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/services/set?loggingEnabled=false", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.False(t, tg["loggingEnabled"])

	w = httptest.NewRecorder()
	m.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/services/set?nope=true", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	m.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/services/set?loggingEnabled=maybe", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSnapshotsSorted(t *testing.T) {
	t.Parallel()

	m := newMux(toggles{}, snaps{2: 7, 0: 1, 1: 4})

	w := httptest.NewRecorder()
	m.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/snapshots", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var out []inner.SnapshotEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Equal(t, []inner.SnapshotEntry{{0, 1}, {1, 4}, {2, 7}}, out)
}
