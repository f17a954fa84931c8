// Package generichttp wraps devices in an HTTP interface.  A device wrapper
// exposes a RouteTable through HTTPer, and the table is bound to a chi router.
package generichttp

import (
	"encoding/json"
	"go/types"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi"
)

// MethodPath is an HTTP method and a chi route pattern
type MethodPath struct {
	Method string
	Path   string
}

// RouteTable maps method+path pairs to handlers
type RouteTable map[MethodPath]http.HandlerFunc

// HTTPer is anything with a RouteTable
type HTTPer interface {
	RT() RouteTable
}

// Endpoints returns "METHOD /path" for every route, sorted
func (rt RouteTable) Endpoints() []string {
	routes := make([]string, 0, len(rt))
	for k := range rt {
		routes = append(routes, k.Method+" "+k.Path)
	}
	sort.Strings(routes)
	return routes
}

// Bind registers every route on r
func (rt RouteTable) Bind(r chi.Router) {
	for mp, fcn := range rt {
		r.MethodFunc(mp.Method, mp.Path, fcn)
	}
	r.Get("/endpoints", func(w http.ResponseWriter, req *http.Request) {
		RespondJSON(w, rt.Endpoints())
	})
}

// RespondJSON writes v as a JSON 200 response
func RespondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// SubMuxSanitize makes sure a mount point begins with a slash and does not end with one
func SubMuxSanitize(str string) string {
	str = strings.TrimRight(str, "/")
	if !strings.HasPrefix(str, "/") {
		str = "/" + str
	}
	return str
}

// HumanPayload is a single typed value sent back to a client as JSON
type HumanPayload struct {
	T      types.BasicKind
	Bool   bool
	Int    int
	Uint   uint64
	Float  float64
	String string
}

// EncodeAndRespond writes the payload as {"bool": v}, {"int": v}, {"uint": v},
// {"f64": v}, or {"str": v} depending on T
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	var v interface{}
	switch hp.T {
	case types.Bool:
		v = BoolT{Bool: hp.Bool}
	case types.Int:
		v = IntT{Int: hp.Int}
	case types.Uint, types.Uint16, types.Uint32, types.Uint64:
		v = UintT{Uint: hp.Uint}
	case types.Float64:
		v = FloatT{F64: hp.Float}
	case types.String:
		v = StrT{Str: hp.String}
	default:
		http.Error(w, "unsupported payload type", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// BoolT is a JSON {"bool": v}
type BoolT struct {
	Bool bool `json:"bool"`
}

// IntT is a JSON {"int": v}
type IntT struct {
	Int int `json:"int"`
}

// UintT is a JSON {"uint": v}
type UintT struct {
	Uint uint64 `json:"uint"`
}

// FloatT is a JSON {"f64": v}
type FloatT struct {
	F64 float64 `json:"f64"`
}

// StrT is a JSON {"str": v}
type StrT struct {
	Str string `json:"str"`
}

// GetString calls a string-getting function and returns the response
// as json {'str': value}
func GetString(fcn func() (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := HumanPayload{T: types.String, String: s}
		hp.EncodeAndRespond(w, r)
	}
}
