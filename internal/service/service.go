// Package service assembles the sync core from configuration and owns the
// lifecycle of its background goroutines.
package service

import (
	"context"
	stdsync "sync"

	"github.com/RMMwalali/kraftbasic-sub001/internal/auth"
	"github.com/RMMwalali/kraftbasic-sub001/internal/cache"
	"github.com/RMMwalali/kraftbasic-sub001/internal/config"
	"github.com/RMMwalali/kraftbasic-sub001/internal/db"
	apperrors "github.com/RMMwalali/kraftbasic-sub001/internal/errors"
	"github.com/RMMwalali/kraftbasic-sub001/internal/events"
	"github.com/RMMwalali/kraftbasic-sub001/internal/facade"
	"github.com/RMMwalali/kraftbasic-sub001/internal/logging"
	"github.com/RMMwalali/kraftbasic-sub001/internal/remote"
	"github.com/RMMwalali/kraftbasic-sub001/internal/remote/httpclient"
	"github.com/RMMwalali/kraftbasic-sub001/internal/storage"
	"github.com/RMMwalali/kraftbasic-sub001/internal/storage/redisstore"
	syncengine "github.com/RMMwalali/kraftbasic-sub001/internal/sync"
	"github.com/RMMwalali/kraftbasic-sub001/internal/sync/connectivity"
	"github.com/RMMwalali/kraftbasic-sub001/internal/sync/deadletter"
	"github.com/RMMwalali/kraftbasic-sub001/internal/sync/idmap"
	"github.com/RMMwalali/kraftbasic-sub001/internal/sync/queue"
	"github.com/RMMwalali/kraftbasic-sub001/internal/sync/retry"
	"github.com/RMMwalali/kraftbasic-sub001/internal/telemetry"
)

// Service holds every runtime dependency. Fields are read-only after New.
type Service struct {
	Config   config.Config
	Store    storage.Store
	Cache    *cache.Cache
	Outbox   *queue.Outbox
	IDs      *idmap.Map
	Table    *remote.Table
	Monitor  *connectivity.Monitor
	Engine   *syncengine.Engine
	Entities *facade.Set
	Bus      *events.Bus
	Metrics  *telemetry.Registry

	// DeadLetters reads letters persisted by the store sink. It is always
	// set so that letters from earlier runs stay reachable.
	DeadLetters *deadletter.StoreSink

	// Local is the in-process backend used when no remote base URL is
	// configured.
	Local remote.MemoryBackend

	// Hub and Prober are nil when their addresses are not configured.
	Hub    *events.Hub
	Prober *connectivity.Prober

	nsq *deadletter.NSQSink
	log *logging.Logger

	mu      stdsync.Mutex
	cancel  context.CancelFunc
	wg      stdsync.WaitGroup
	started bool
}

// New builds a Service. It loads persisted outbox and id map state but
// starts nothing; call Start for the background loops.
func New(ctx context.Context, cfg config.Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := OpenStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	s, err := build(ctx, cfg, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	return s, nil
}

// NewWithStore builds a Service over an already opened store. The
// Service takes ownership of store.
func NewWithStore(ctx context.Context, cfg config.Config, store storage.Store) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return build(ctx, cfg, store)
}

func build(ctx context.Context, cfg config.Config, store storage.Store) (*Service, error) {
	s := &Service{
		Config:      cfg,
		Store:       store,
		Cache:       cache.New(store),
		Outbox:      queue.New(store, cfg.Sync.MaxQueueSize),
		IDs:         idmap.New(store),
		Monitor:     connectivity.NewMonitor(cfg.Connectivity.InitialOnline),
		Bus:         events.NewBus(),
		Metrics:     telemetry.NewRegistry(),
		DeadLetters: deadletter.NewStoreSink(store),
		log:         logging.Get().With("service"),
	}
	if err := s.Outbox.Load(ctx); err != nil {
		return nil, err
	}
	if err := s.IDs.Load(ctx); err != nil {
		return nil, err
	}

	clients := s.remoteClients()
	table, err := remote.NewTable(clients)
	if err != nil {
		return nil, err
	}
	s.Table = table.WithTimeout(cfg.Sync.RemoteTimeout)

	policy, err := retry.Parse(cfg.Sync.Backoff, cfg.Sync.BackoffBase, cfg.Sync.BackoffMax)
	if err != nil {
		return nil, err
	}
	sink, err := s.deadLetterSink()
	if err != nil {
		return nil, err
	}

	s.Engine, err = syncengine.New(cfg.Sync, syncengine.Deps{
		Outbox:  s.Outbox,
		Cache:   s.Cache,
		Table:   s.Table,
		Monitor: s.Monitor,
		IDs:     s.IDs,
		Policy:  policy,
		Sink:    sink,
		Bus:     s.Bus,
		Metrics: s.Metrics,
	})
	if err != nil {
		s.closeSinks()
		return nil, err
	}

	s.Entities, err = facade.NewSet(cfg.Sync, facade.Deps{
		Cache:   s.Cache,
		Outbox:  s.Outbox,
		Table:   s.Table,
		Monitor: s.Monitor,
		IDs:     s.IDs,
		Drainer: s.Engine,
		Bus:     s.Bus,
		Metrics: s.Metrics,
	})
	if err != nil {
		s.closeSinks()
		return nil, err
	}

	if cfg.Connectivity.HealthURL != "" {
		s.Prober = connectivity.NewProber(s.Monitor, cfg.Connectivity.HealthURL,
			cfg.Connectivity.ProbeInterval, cfg.Connectivity.ProbeTimeout)
	}
	if cfg.Events.Addr != "" {
		s.Hub = events.NewHub(cfg.Events.BufferSize)
	}

	s.Monitor.Subscribe(func(t connectivity.Transition) {
		s.Bus.Publish(events.ConnectivityChanged, map[string]interface{}{"transition": t.String()})
	})

	s.log.Info("service built", logging.Fields{
		"storage": cfg.Storage.Driver,
		"remote":  s.remoteName(),
		"outbox":  s.Outbox.Len(),
		"online":  s.Monitor.IsOnline(),
	})
	return s, nil
}

// OpenStore opens the store named by cfg.Driver.
func OpenStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory, "":
		return storage.NewMemory(), nil
	case config.DriverSQLite:
		kv, err := db.OpenKVStore(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return kv, nil
	case config.DriverRedis:
		rs, err := redisstore.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisNamespace)
		if err != nil {
			return nil, err
		}
		return rs, nil
	}
	return nil, apperrors.Newf(apperrors.ErrInvalid, "unknown storage driver %q", cfg.Driver)
}

func (s *Service) remoteClients() remote.Clients {
	rc := s.Config.Remote
	if rc.BaseURL == "" {
		s.Local = remote.NewMemoryBackend()
		return s.Local.Clients()
	}
	var opts []httpclient.Option
	if rc.JWTSecret != "" {
		tokens := auth.NewTokenSource(auth.NewJWTAuth(rc.JWTSecret), rc.Subject, rc.Device, rc.TokenTTL)
		opts = append(opts, httpclient.WithTokenSource(tokens))
	}
	return httpclient.Clients(rc.BaseURL, opts...)
}

func (s *Service) remoteName() string {
	if s.Local != nil {
		return "memory"
	}
	return s.Config.Remote.BaseURL
}

func (s *Service) deadLetterSink() (deadletter.Sink, error) {
	dl := s.Config.DeadLetter
	switch dl.Sink {
	case config.SinkLog, "":
		return deadletter.LogSink{}, nil
	case config.SinkStore:
		return deadletter.Multi{deadletter.LogSink{}, s.DeadLetters}, nil
	case config.SinkNSQ:
		nsqSink, err := deadletter.NewNSQSink(dl.NSQDAddr, dl.Topic)
		if err != nil {
			return nil, err
		}
		s.nsq = nsqSink
		return deadletter.Multi{deadletter.LogSink{}, nsqSink}, nil
	}
	return nil, apperrors.Newf(apperrors.ErrInvalid, "unknown dead-letter sink %q", dl.Sink)
}

// Start launches the drain loop and, when configured, the health prober
// and the websocket hub. Calling Start twice does nothing.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.Engine.Start(runCtx)

	if s.Prober != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Prober.Run(runCtx)
		}()
	}

	if s.Hub != nil {
		detach := s.Hub.Attach(s.Bus)
		s.wg.Add(2)
		go func() {
			defer s.wg.Done()
			s.Hub.Run(runCtx)
		}()
		go func() {
			defer s.wg.Done()
			defer detach()
			if err := s.Hub.Serve(runCtx, s.Config.Events.Addr); err != nil {
				s.log.Error("websocket server failed", err, logging.Fields{"addr": s.Config.Events.Addr})
			}
		}()
	}

	if s.Monitor.IsOnline() {
		s.Engine.RequestDrain()
	}
}

// Stop cancels in-flight remote calls, halts the background loops and
// waits for them.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.Engine.Stop()
	s.wg.Wait()
}

// Close stops the service and releases the store and sinks.
func (s *Service) Close() error {
	s.Stop()
	s.closeSinks()
	if err := s.Store.Close(); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "close store", err)
	}
	return nil
}

func (s *Service) closeSinks() {
	if s.nsq != nil {
		s.nsq.Close()
		s.nsq = nil
	}
}

// Drain runs one pass immediately.
func (s *Service) Drain(ctx context.Context) syncengine.DrainResult {
	return s.Engine.Drain(ctx)
}

// SetOnline overrides the connectivity state.
func (s *Service) SetOnline(online bool) {
	s.Monitor.SetOnline(online)
}

// Requeue moves a persisted dead letter back into the outbox.
func (s *Service) Requeue(ctx context.Context, id string) error {
	if err := s.DeadLetters.Requeue(ctx, id, s.Outbox); err != nil {
		return err
	}
	s.log.Info("dead letter requeued", logging.Fields{"id": id})
	if s.Monitor.IsOnline() {
		s.Engine.RequestDrain()
	}
	return nil
}

// OutboxStats reports the current outbox contents.
func (s *Service) OutboxStats() queue.Stats {
	return s.Outbox.Stats()
}
