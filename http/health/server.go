// Package health serves liveness, prometheus metrics and a debug view of the
// live adapters.
package health

import (
	"cmp"
	httpgo "net/http"
	"slices"
	"strconv"

	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/go-kratos/swagger-api/openapiv2"
	"github.com/go-pantheon/fabrica-stream/conf"
	"github.com/go-pantheon/fabrica-stream/wrap"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	*http.Server

	registry *wrap.Registry
}

// NewServer registers the routes. registry may be nil, then
// /debug/adapters answers with an empty list.
func NewServer(c conf.Health, registry *wrap.Registry) *Server {
	s := &Server{
		Server:   http.NewServer(http.Address(c.Addr)),
		registry: registry,
	}

	s.HandlePrefix("/q/", openapiv2.NewHandler())
	s.Handle("/metrics", promhttp.Handler())
	s.HandleFunc("/health", func(w httpgo.ResponseWriter, r *httpgo.Request) {
		w.WriteHeader(httpgo.StatusOK)
	})

	r := s.Route("/debug")
	r.GET("/adapters", s.adapters)

	return s
}

// adapters lists the stats of every live adapter ordered by id, or of one
// adapter with ?id=N.
func (s *Server) adapters(ctx http.Context) error {
	if s.registry == nil {
		return ctx.JSON(httpgo.StatusOK, []wrap.Stats{})
	}

	if q := ctx.Query().Get("id"); q != "" {
		id, err := strconv.ParseUint(q, 10, 64)
		if err != nil {
			return ctx.JSON(httpgo.StatusBadRequest, map[string]string{"error": "invalid id"})
		}

		a, ok := s.registry.Get(id)
		if !ok {
			return ctx.JSON(httpgo.StatusNotFound, map[string]string{"error": "adapter not found"})
		}

		return ctx.JSON(httpgo.StatusOK, a.Stats())
	}

	list := make([]wrap.Stats, 0, s.registry.Len())

	s.registry.Walk(func(a *wrap.Adapter) bool {
		list = append(list, a.Stats())
		return true
	})

	slices.SortFunc(list, func(a, b wrap.Stats) int {
		return cmp.Compare(a.ID, b.ID)
	})

	return ctx.JSON(httpgo.StatusOK, list)
}
