// Package app wires the stores, the daemon runtime and the web server for the
// binaries under cmd/ and the all-in-one main.
package app

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"greenhouse/auth"
	"greenhouse/internal/conditional"
	"greenhouse/internal/config"
	"greenhouse/internal/daemon"
	"greenhouse/internal/db"
	"greenhouse/internal/engine"
	"greenhouse/internal/metrics"
	"greenhouse/internal/mqtt"
	store "greenhouse/internal/redis"
	"greenhouse/internal/scheduler"
	"greenhouse/internal/sensor"
	"greenhouse/internal/taskqueue"
	"greenhouse/internal/web"

	"github.com/pion/mdns/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const workerConcurrency = 4

// Infra holds the connections every binary needs
type Infra struct {
	Config  *config.Config
	Log     *zap.Logger
	DB      *db.DB
	Redis   *redis.Client
	Bus     mqtt.Bus
	Metrics *metrics.Metrics
	Code    *conditional.CodeStore

	closeBus func()
}

// Open connects to Postgres, Redis and the broker and migrates the schema.
// With allowMemoryBus and no broker configured an in-process bus is used.
func Open(cfg *config.Config, log *zap.Logger, clientSuffix string, allowMemoryBus bool) (*Infra, error) {
	dbConn, err := db.NewDB(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to DB: %w", err)
	}
	if err := db.Migrate(dbConn.Gorm()); err != nil {
		dbConn.Close(context.Background())
		return nil, err
	}

	in := &Infra{
		Config:   cfg,
		Log:      log,
		DB:       dbConn,
		Redis:    store.NewRedisClient(cfg.Redis.Addr),
		Metrics:  metrics.New(),
		Code:     conditional.NewCodeStore(cfg.Conditional.CodePath),
		closeBus: func() {},
	}
	if err := os.MkdirAll(cfg.Conditional.CodePath, 0o755); err != nil {
		in.Close()
		return nil, fmt.Errorf("create code path: %w", err)
	}

	switch {
	case cfg.MQTT.Broker != "":
		client, err := mqtt.Connect(cfg.MQTT.Broker, cfg.MQTT.ClientID+"-"+clientSuffix, log.Named("mqtt"))
		if err != nil {
			in.Close()
			return nil, fmt.Errorf("connect to MQTT: %w", err)
		}
		in.Bus = client
		in.closeBus = client.Close
	case allowMemoryBus:
		log.Info("no MQTT broker configured, using the in-process bus")
		in.Bus = mqtt.NewMemory()
	default:
		in.Close()
		return nil, fmt.Errorf("mqtt.broker must be set")
	}
	return in, nil
}

func (in *Infra) Close() {
	in.closeBus()
	if err := in.Redis.Close(); err != nil {
		in.Log.Warn("closing redis", zap.Error(err))
	}
	in.DB.Close(context.Background())
}

// Daemon is the rule runtime: engine, action workers, sensor poller and the
// control server answering the web process.
type Daemon struct {
	Engine *engine.Engine
	Editor *conditional.Editor

	log      *zap.Logger
	sched    *scheduler.Scheduler
	queue    *taskqueue.Enqueuer
	worker   *taskqueue.Worker
	control  *daemon.Server
	sensor   *sensor.BME280
	cancel   context.CancelFunc
	pollerWG sync.WaitGroup
}

// StartDaemon starts every daemon component
func StartDaemon(ctx context.Context, in *Infra) (*Daemon, error) {
	cfg := in.Config
	log := in.Log

	d := &Daemon{
		log:   log,
		sched: scheduler.NewScheduler(log.Named("scheduler")),
		queue: taskqueue.NewEnqueuer(cfg.Redis.Addr, log.Named("queue")),
	}

	deps := engine.Deps{
		DB:        in.DB.Gorm(),
		Bus:       in.Bus,
		Cache:     store.NewMeasurementCache(in.Redis),
		Outputs:   store.NewOutputStates(in.Redis),
		Code:      in.Code,
		Scheduler: d.sched,
		Queue:     d.queue,
		Log:       log.Named("engine"),
		Metrics:   in.Metrics,
	}
	if gpio, err := engine.NewPeriphGPIO(); err != nil {
		log.Warn("GPIO unavailable, gpio_state conditions read -1", zap.Error(err))
	} else {
		deps.GPIO = gpio
	}
	d.Engine = engine.NewEngine(deps)
	d.Editor = conditional.NewEditor(in.DB.Gorm(), in.Code, d.Engine, log.Named("editor"), in.Metrics)

	mailer := &taskqueue.SMTPMailer{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}
	exec := taskqueue.NewExecutor(in.DB.Gorm(), in.Bus, deps.Outputs, mailer, d.Editor, log.Named("actions"))
	d.worker = taskqueue.NewWorker(cfg.Redis.Addr, workerConcurrency, exec, log.Named("worker"))
	if err := d.worker.Start(); err != nil {
		d.queue.Close()
		return nil, fmt.Errorf("start workers: %w", err)
	}

	d.sched.Start()
	if err := d.Engine.Start(ctx); err != nil {
		d.Stop()
		return nil, fmt.Errorf("start engine: %w", err)
	}

	d.control = daemon.NewServer(in.Bus, d.Engine, cfg.Daemon.RequestTimeout, log.Named("control"))
	if err := d.control.Start(); err != nil {
		d.Stop()
		return nil, err
	}

	pollCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.startPoller(pollCtx, in)
	return d, nil
}

func (d *Daemon) startPoller(ctx context.Context, in *Infra) {
	cfg := in.Config.Sensor
	bme, err := sensor.OpenBME280(cfg.I2CBus, cfg.I2CAddress)
	if err != nil {
		d.log.Warn("BME280 unavailable, input disabled", zap.Error(err))
		return
	}
	d.sensor = bme

	var forwarder *sensor.Forwarder
	if cfg.SerialDevice != "" {
		forwarder = sensor.NewForwarder(sensor.ForwarderConfig{
			Device:      cfg.SerialDevice,
			LockFile:    cfg.LockFile,
			LockTimeout: cfg.LockTimeout,
			Interval:    cfg.ForwardInterval,
			SettleDelay: cfg.SettleDelay,
		}, d.log.Named("ttn"), in.Metrics)
	}
	reader := sensor.NewReader(bme, sensor.NewChannelSet(cfg.EnabledChannels...), forwarder)
	poller := sensor.NewPoller(cfg.InputID, reader, cfg.Period, in.Bus, d.log.Named("input"), in.Metrics)

	d.pollerWG.Add(1)
	go func() {
		defer d.pollerWG.Done()
		poller.Run(ctx)
	}()
}

// Stop shuts the daemon down in reverse start order
func (d *Daemon) Stop() {
	if d.cancel != nil {
		d.cancel()
		d.pollerWG.Wait()
	}
	if d.sensor != nil {
		if err := d.sensor.Close(); err != nil {
			d.log.Warn("closing BME280", zap.Error(err))
		}
	}
	if d.control != nil {
		if err := d.control.Stop(); err != nil {
			d.log.Warn("stopping control server", zap.Error(err))
		}
	}
	d.Engine.Stop()
	d.sched.Stop()
	d.worker.Stop()
	if err := d.queue.Close(); err != nil {
		d.log.Warn("closing queue", zap.Error(err))
	}
}

// NewWeb builds the web server. daemonControl is the Engine in the
// all-in-one binary and a bus daemon.Client in the web binary.
func NewWeb(in *Infra, daemonControl conditional.DaemonControl) (*web.WebServer, error) {
	return web.NewWebServer(web.Deps{
		Auth:    auth.NewAuthModule(in.DB.Gorm(), in.Redis, in.Config.JWT.Secret),
		Editor:  conditional.NewEditor(in.DB.Gorm(), in.Code, daemonControl, in.Log.Named("editor"), in.Metrics),
		Flashes: store.NewFlashStore(in.Redis),
		Bus:     in.Bus,
		Metrics: in.Metrics,
		DB:      in.DB,
		Log:     in.Log.Named("web"),
	})
}

// ServeWeb runs ws on the configured port until ctx is done
func ServeWeb(ctx context.Context, in *Infra, ws *web.WebServer) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- ws.Start(fmt.Sprintf(":%d", in.Config.App.Port))
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return ws.Shutdown(shutdownCtx)
	}
}

// StartMDNS advertises localName on the LAN. Failures are logged only.
func StartMDNS(localName string, log *zap.Logger) *mdns.Conn {
	addr4, err := net.ResolveUDPAddr("udp4", mdns.DefaultAddressIPv4)
	if err != nil {
		log.Warn("resolve mDNS UDP4 address", zap.Error(err))
		return nil
	}
	addr6, err := net.ResolveUDPAddr("udp6", mdns.DefaultAddressIPv6)
	if err != nil {
		log.Warn("resolve mDNS UDP6 address", zap.Error(err))
		return nil
	}
	l4, err := net.ListenUDP("udp4", addr4)
	if err != nil {
		log.Warn("listen on UDP4 for mDNS", zap.Error(err))
		return nil
	}
	l6, err := net.ListenUDP("udp6", addr6)
	if err != nil {
		log.Warn("listen on UDP6 for mDNS", zap.Error(err))
		l4.Close()
		return nil
	}

	conn, err := mdns.Server(ipv4.NewPacketConn(l4), ipv6.NewPacketConn(l6), &mdns.Config{
		LocalNames: []string{localName},
	})
	if err != nil {
		log.Warn("start mDNS server", zap.Error(err))
		return nil
	}
	log.Info("mDNS advertising", zap.String("name", localName))
	return conn
}
