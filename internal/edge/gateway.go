package edge

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gorilla/mux"

	"github.com/example/sessionauth/internal/config"
	"github.com/example/sessionauth/internal/httpx"
	"github.com/example/sessionauth/internal/logging"
)

// Resolver maps a route's upstream name or URL to a target.
type Resolver func(upstream string) (*url.URL, error)

type gatewayOptions struct {
	internalKey string
}

type GatewayOption func(*gatewayOptions)

// WithInternalKey makes every proxied request carry key in the internal key
// header, so upstreams can trust the X-Forwarded-For entry the edge appends.
// Client-supplied values of that header are always dropped.
func WithInternalKey(key string) GatewayOption {
	return func(o *gatewayOptions) {
		o.internalKey = key
	}
}

// NewGateway builds the edge router. Routes are matched in order; requests
// that match none get 404 and are never forwarded.
func NewGateway(log *slog.Logger, routes []config.Route, resolve Resolver, v Validator, opts ...GatewayOption) (http.Handler, error) {
	var o gatewayOptions
	for _, opt := range opts {
		opt(&o)
	}

	router := mux.NewRouter()
	proxies := map[string]*httputil.ReverseProxy{}
	requireCredential := RequireCredential(log, v)

	for i, rt := range routes {
		target, err := resolve(rt.Upstream)
		if err != nil {
			return nil, fmt.Errorf("route %d (%s): %w", i, rt.Path, err)
		}
		proxy, ok := proxies[target.String()]
		if !ok {
			proxy = newProxy(log, target, o.internalKey)
			proxies[target.String()] = proxy
		}

		interceptors := []Interceptor{StripIdentity}
		if rt.Protected {
			interceptors = append(interceptors, requireCredential)
		}

		var route *mux.Route
		if rt.Prefix {
			route = router.PathPrefix(rt.Path)
		} else {
			route = router.Path(rt.Path)
		}
		if len(rt.Methods) > 0 {
			route = route.Methods(rt.Methods...)
		}
		route.Handler(Chain(proxy, interceptors...))
	}

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusNotFound, "Not Found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})
	return router, nil
}

func newProxy(log *slog.Logger, target *url.URL, internalKey string) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Header.Del(httpx.InternalKeyHeader)
			if internalKey != "" {
				pr.Out.Header.Set(httpx.InternalKeyHeader, internalKey)
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Error("upstream request failed",
				slog.String("upstream", target.String()),
				slog.String("path", r.URL.Path),
				logging.Err(err),
			)
			writeMessage(w, http.StatusBadGateway, "Bad Gateway")
		},
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"message":%q}`, msg)
}
