package health

import (
	"encoding/json"
	httpgo "net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-pantheon/fabrica-stream/conf"
	"github.com/go-pantheon/fabrica-stream/loop"
	"github.com/go-pantheon/fabrica-stream/stream"
	"github.com/go-pantheon/fabrica-stream/wrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(httpgo.MethodGet, target, nil))

	return rec
}

func TestHealth(t *testing.T) {
	t.Parallel()

	s := NewServer(conf.Default().Health, nil)

	assert.Equal(t, httpgo.StatusOK, get(t, s, "/health").Code)

	rec := get(t, s, "/debug/adapters")
	require.Equal(t, httpgo.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestAdapters(t *testing.T) {
	t.Parallel()

	m := loop.NewManual()
	r := wrap.NewRegistry(conf.Default().Registry)
	pa, pb := stream.Pipe(m, 0)

	a := wrap.New(m, pa, nil, wrap.WithRegistry(r))
	b := wrap.New(m, pb, nil, wrap.WithRegistry(r))

	s := NewServer(conf.Default().Health, r)

	rec := get(t, s, "/debug/adapters")
	require.Equal(t, httpgo.StatusOK, rec.Code)

	var list []wrap.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, a.ID(), list[0].ID)
	assert.Equal(t, b.ID(), list[1].ID)

	rec = get(t, s, "/debug/adapters?id="+strconv.FormatUint(b.ID(), 10))
	require.Equal(t, httpgo.StatusOK, rec.Code)

	var one wrap.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	assert.Equal(t, b.ID(), one.ID)

	assert.Equal(t, httpgo.StatusBadRequest, get(t, s, "/debug/adapters?id=x").Code)

	a.Handle().Close(nil)
	m.RunUntilIdle()

	assert.Equal(t, httpgo.StatusNotFound, get(t, s, "/debug/adapters?id="+strconv.FormatUint(a.ID(), 10)).Code)
}
