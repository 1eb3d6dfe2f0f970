package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/loqui/pulse/internal/auth"
	"github.com/loqui/pulse/internal/broker"
	"github.com/loqui/pulse/internal/core"
	"github.com/loqui/pulse/internal/emitter"
	"github.com/loqui/pulse/internal/metrics"
	"github.com/loqui/pulse/internal/sse"
	"github.com/loqui/pulse/internal/store"
)

// App wires the transport, broker, store, emitter and HTTP surface together
// and owns their shutdown order.
type App struct {
	config   *core.Config
	broker   *broker.Broker
	store    *store.Store
	emitter  *emitter.Emitter
	verifier *auth.JWKSVerifier
	gate     *auth.Gate
	server   *http.Server
	cancel   context.CancelFunc
}

func New(config *core.Config) (*App, error) {
	ctx := context.Background()

	transport, err := newTransport(ctx, config)
	if err != nil {
		return nil, err
	}

	b := broker.New(transport)

	st, err := store.New(ctx, config.Database.URL)
	if err != nil {
		b.Close()
		return nil, err
	}

	em := emitter.New(b)
	st.OnMessageCreated = em.MessageCreated

	verifier, err := auth.NewJWKSVerifier(config.JwksURL)
	if err != nil {
		st.Close()
		b.Close()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	go em.Run(runCtx)

	return &App{
		config:   config,
		broker:   b,
		store:    st,
		emitter:  em,
		verifier: verifier,
		gate:     auth.NewGate(verifier, st, config.CORS.Origin),
		cancel:   cancel,
	}, nil
}

func newTransport(ctx context.Context, config *core.Config) (broker.Transport, error) {
	switch config.Broker.Driver {
	case "redis":
		transport := broker.NewRedisTransport(
			config.Broker.Redis.Addr,
			config.Broker.Redis.Password,
			config.Broker.Redis.DB,
		)
		if err := transport.Ping(ctx); err != nil {
			return nil, fmt.Errorf("api: redis transport: %w", err)
		}
		return transport, nil
	case "pulsar":
		transport, err := broker.NewPulsarTransport(config.Broker.Pulsar.URL)
		if err != nil {
			return nil, fmt.Errorf("api: pulsar transport: %w", err)
		}
		return transport, nil
	default:
		return nil, fmt.Errorf("api: unknown broker driver: %s", config.Broker.Driver)
	}
}

func (app *App) Listen() error {
	router := httprouter.New()

	router.GlobalOPTIONS = app.gate.Preflight()
	router.GET("/events/:channel/", app.gate.Protect(app.events()))
	router.POST("/messages/direct", app.sendDirectMessage())
	router.GET("/healthz", app.healthz())
	router.Handler(http.MethodGet, "/metrics", metrics.Handler())

	log.Printf("Listening on %s", app.config.Addr)

	app.server = &http.Server{Addr: app.config.Addr, Handler: router}
	return app.server.ListenAndServe()
}

func (app *App) Close() {
	if app.server != nil {
		_ = app.server.Close()
	}

	app.cancel()
	app.emitter.Wait()
	app.verifier.Close()
	app.broker.Close()
	app.store.Close()
}

// brokerAdapter narrows the concrete broker to the session's interface.
type brokerAdapter struct {
	broker *broker.Broker
}

func (a brokerAdapter) Subscribe(channel string) (sse.Subscription, error) {
	return a.broker.Subscribe(channel)
}

func (a brokerAdapter) Unsubscribe(channel string, sub sse.Subscription) {
	if s, ok := sub.(*broker.Subscription); ok {
		a.broker.Unsubscribe(channel, s)
	}
}

func (app *App) events() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		session := sse.NewSession(p.ByName("channel"), sse.SessionOptions{
			Broker: brokerAdapter{broker: app.broker},
			Origin: app.config.CORS.Origin,
		})

		session.Serve(w, r)
	}
}

func (app *App) healthz() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Add("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status": "ok"}`))
	}
}
