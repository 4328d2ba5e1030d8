package server

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/coordination"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/logging"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/metastore"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/pubsub"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/pushmonitor"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/routing"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/throttle"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/utils"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/version"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	flagZkHosts    utils.StrlistFlag
	flagConfigPath = flag.String("config", "", "path of the yaml config file")
	flagCluster    = flag.String("cluster", "", "cluster name, overrides the config file")
	flagHttpPort   = flag.Int("http_port", 0, "bind port of the debug http server, overrides the config file")
)

func init() {
	flag.Var(&flagZkHosts, "zk_hosts", "zk hosts with format <ip:port>,<ip:port>...")
}

// ConfigFromFlags loads the config file and applies flag overrides.
func ConfigFromFlags() *Config {
	cfg := DefaultConfig()
	if *flagConfigPath != "" {
		loaded, err := readConfig(*flagConfigPath)
		if err != nil {
			logging.Fatal("load config failed: %v", err)
		}
		cfg = loaded
	}
	if *flagCluster != "" {
		cfg.Cluster = *flagCluster
	}
	if len(flagZkHosts) > 0 {
		cfg.Zookeeper.Hosts = flagZkHosts
	}
	if *flagHttpPort != 0 {
		cfg.HttpPort = *flagHttpPort
	}
	if err := cfg.Validate(); err != nil {
		logging.Fatal("invalid config: %v", err)
	}
	return cfg
}

type Server struct {
	myself   string
	config   *Config
	registry *prometheus.Registry

	store      metastore.MetaStore
	ownStore   bool
	zkClient   *coordination.ZkClient
	repo       *routing.RoutingDataRepository
	reader     *pushmonitor.StoreStatusReader
	aggregator *pushmonitor.Aggregator
	throttler  *throttle.RecordThrottler

	consumer   pubsub.Consumer
	endpoint   string
	ingester   *statusIngester
	natsConn   *nats.Conn
	httpServer *http.Server

	mu      sync.Mutex
	started bool
}

type serverOpts func(sv *Server)

// WithMetaStore replaces the zookeeper connection, the caller keeps ownership.
func WithMetaStore(store metastore.MetaStore) serverOpts {
	return func(sv *Server) {
		sv.store = store
	}
}

// WithConsumer feeds status reports from consumer, throttled by endpoint's quota.
func WithConsumer(consumer pubsub.Consumer, endpoint string) serverOpts {
	return func(sv *Server) {
		sv.consumer = consumer
		sv.endpoint = endpoint
	}
}

func WithRegistry(registry *prometheus.Registry) serverOpts {
	return func(sv *Server) {
		sv.registry = registry
	}
}

func CreateServer(cfg *Config, opts ...serverOpts) *Server {
	s := &Server{config: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	if hostName, err := os.Hostname(); err != nil {
		logging.Fatal("get host name failed: %v", err.Error())
	} else {
		s.myself = fmt.Sprintf("%s:%d", hostName, cfg.HttpPort)
	}

	if s.store == nil {
		s.store = metastore.CreateZookeeperStore(
			cfg.Zookeeper.Hosts,
			cfg.Zookeeper.SessionTimeout,
			zk.WorldACL(zk.PermAll),
			"",
			nil,
			metastore.WithMaxQps(cfg.Zookeeper.MaxQps),
		)
		s.ownStore = true
	}
	s.zkClient = coordination.NewZkClient(s.store, cfg.Cluster)
	s.repo = routing.NewRoutingDataRepository(s.zkClient, routing.WithRegisterer(s.registry))

	pm := &cfg.PushMonitor
	s.reader = pushmonitor.NewStoreStatusReader(s.store, "/"+cfg.Cluster+pm.StatusRoot)
	var classifier pushmonitor.InstanceClassifier = pushmonitor.NewHeartbeatClassifier(
		s.store,
		"/"+cfg.Cluster+pm.HeartbeatRoot,
		pushmonitor.WithHeartbeatTimeout(pm.HeartbeatTimeout),
	)
	if pm.ClassifierCacheTtl > 0 {
		classifier = pushmonitor.NewCachedClassifier(classifier, pm.ClassifierCacheTtl)
	}
	s.aggregator = pushmonitor.NewAggregator(
		s.reader,
		classifier,
		pushmonitor.WithGracePeriod(pm.GracePeriod),
		pushmonitor.WithRegisterer(s.registry),
	)

	// a fetched batch may be larger than one window budget of its endpoint
	throttlers := map[string]*throttle.EventThrottler{}
	for endpoint, quota := range cfg.Ingestion.Quotas {
		throttlers[endpoint] = throttle.NewEventThrottler(
			endpoint,
			throttle.FixedQuota(quota),
			throttle.WithWindow(cfg.Ingestion.Window),
			throttle.WithCheckQuotaBeforeRecording(),
		)
	}
	s.throttler = throttle.NewRecordThrottler(throttlers, throttle.WithRegisterer(s.registry))
	return s
}

func (s *Server) Repository() *routing.RoutingDataRepository {
	return s.repo
}

func (s *Server) Aggregator() *pushmonitor.Aggregator {
	return s.aggregator
}

func (s *Server) openJetStream(js *JetStreamConfig) {
	conn, err := nats.Connect(js.Url, nats.Name(s.myself))
	if err != nil {
		logging.Fatal("%s: connect to nats %s failed: %v", s.myself, js.Url, err)
	}
	stream, err := jetstream.New(conn)
	if err != nil {
		logging.Fatal("%s: open jetstream on %s failed: %v", s.myself, js.Url, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	consumer, err := pubsub.OpenJetStreamConsumer(ctx, stream, js.Stream, js.Durable, js.Batch)
	if err != nil {
		logging.Fatal("%s: %v", s.myself, err)
	}
	s.natsConn = conn
	s.consumer = consumer
	s.endpoint = js.Endpoint
}

// Prepare starts watching the cluster and ingesting status reports, without
// the http server.
func (s *Server) Prepare() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if err := s.repo.Refresh(); err != nil {
		return err
	}
	s.zkClient.Start()

	if s.consumer == nil && s.config.Ingestion.JetStream != nil {
		s.openJetStream(s.config.Ingestion.JetStream)
	}
	if s.consumer != nil {
		s.ingester = newStatusIngester(
			s.consumer,
			s.endpoint,
			s.throttler,
			s.reader,
			s.config.Ingestion.PollTimeout,
		)
		s.ingester.start()
	}
	s.started = true
	return nil
}

func (s *Server) Start() {
	logging.Info("%s: start server, %s", s.myself, version.Describe())
	if err := s.Prepare(); err != nil {
		logging.Fatal("%s: prepare server failed: %v", s.myself, err)
	}
	s.startHttpServer()
}

func (s *Server) startHttpServer() {
	logging.Info("%s: start to listening to port %v", s.myself, s.config.HttpPort)
	s.httpServer = &http.Server{Addr: fmt.Sprintf(":%v", s.config.HttpPort), Handler: s.router()}
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Error("%s: listen to http port %d failed: %s", s.myself, s.config.HttpPort, err.Error())
	}
}

func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		s.httpServer.Close()
	}
	if s.ingester != nil {
		s.ingester.stop()
		s.ingester = nil
	}
	if s.natsConn != nil {
		s.natsConn.Close()
	}
	s.zkClient.Stop()
	s.repo.Clear()
	if s.ownStore {
		s.store.Close()
	}
	s.started = false
}
