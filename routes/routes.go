package routes

// HTTP routing setup for the reward gate API.

import (
	"net/http"
	"net/netip"
	"time"

	"github.com/justinas/alice"
	"github.com/rs/cors"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/collapsinghierarchy/rewardgate/handler"
	"github.com/collapsinghierarchy/rewardgate/service"
	"github.com/collapsinghierarchy/rewardgate/session"
)

type Options struct {
	CORSOrigins     []string // no cross-origin access when empty
	RateLimitBurst  int
	RateLimitMinute int
	TrustedProxies  []netip.Prefix // peers allowed to set X-Forwarded-For
	WebDir          string         // served at / when set
}

// SetupRoutes wires all HTTP endpoints.
func SetupRoutes(svc *service.Service, sessions *session.Registry, opts Options) http.Handler {
	srv := handler.New(svc, sessions)
	limiter := newIPLimiter(opts.RateLimitMinute, opts.RateLimitBurst, opts.TrustedProxies)

	mux := http.NewServeMux()

	// Session and flows
	mux.HandleFunc("POST /api/v1/session", srv.CreateSession)
	mux.HandleFunc("GET /api/v1/session", srv.Session)
	mux.Handle("POST /api/v1/passcode", limiter.Middleware(http.HandlerFunc(srv.Passcode)))
	mux.HandleFunc("POST /api/v1/claim", srv.Claim)
	mux.HandleFunc("GET /api/v1/pool", srv.Pool)

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	if opts.WebDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(opts.WebDir)))
	}

	// Middleware chain (logging, cors)
	chain := alice.New(
		hlog.NewHandler(log.Logger),
		hlog.RemoteAddrHandler("ip"),
		hlog.RequestIDHandler("req_id", "Request-Id"),
		hlog.AccessHandler(logRequest),
	)
	// rs/cors treats an empty origin list as "*", so it is only mounted
	// when origins are listed.
	if len(opts.CORSOrigins) > 0 {
		c := cors.New(cors.Options{
			AllowedOrigins:   opts.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost},
			AllowedHeaders:   []string{"Content-Type"},
			AllowCredentials: true,
		})
		chain = chain.Append(c.Handler)
	}
	return chain.Then(mux)
}

// logRequest logs basic request information.
func logRequest(r *http.Request, status, size int, duration time.Duration) {
	hlog.FromRequest(r).Info().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("request")
}
