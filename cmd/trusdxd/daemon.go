package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trusdx/trusdxd/pkg/audio"
	"github.com/trusdx/trusdxd/pkg/catemu"
	"github.com/trusdx/trusdxd/pkg/config"
	"github.com/trusdx/trusdxd/pkg/events"
	"github.com/trusdx/trusdxd/pkg/logging"
	"github.com/trusdx/trusdxd/pkg/metrics"
	"github.com/trusdx/trusdxd/pkg/seriallink"
	"github.com/trusdx/trusdxd/pkg/supervisor"
	"github.com/trusdx/trusdxd/pkg/telemetry"
)

// Daemon owns every component of the driver: the CAT dispatcher, the
// connection supervisor, the audio bridge, and the optional observers.
type Daemon struct {
	config     *config.Config
	configPath string
	log        *logging.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	startTime  time.Time

	bus        *events.Bus
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	dispatcher *catemu.Dispatcher
	bridge     *audio.Bridge
	vox        *audio.VOX
	monitor    *audio.LevelMonitor
	supervisor *supervisor.Supervisor
	powerMon   *supervisor.PowerMonitor
	publisher  *telemetry.Publisher

	playback *audio.PlaybackStream
	capture  *audio.CaptureStream
	audioUp  bool

	webServer *http.Server
	failed    chan error
}

// NewDaemon wires the component graph without touching the radio. The
// supervisor makes first contact when Start runs.
func NewDaemon(cfg *config.Config, configPath string) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config:     cfg,
		configPath: configPath,
		log:        logging.ForComponent("daemon"),
		ctx:        ctx,
		cancel:     cancel,
		startTime:  time.Now(),
		bus:        events.NewBus(),
		registry:   prometheus.NewRegistry(),
		failed:     make(chan error, 1),
	}

	d.registry.MustRegister(collectors.NewGoCollector())
	d.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	d.metrics = metrics.New(d.registry)

	d.dispatcher = catemu.NewDispatcher(catemu.DispatcherOptions{
		GuardFrequency:   cfg.CAT.GuardFrequency,
		DisableFreqGuard: cfg.CAT.DisableFreqGuard,
		TXDrain:          ms(cfg.CAT.TXDrainMs),
		Bus:              d.bus,
	})
	d.dispatcher.OnCommand = func(mnemonic string, policy catemu.Policy) {
		d.metrics.ObserveCommand(mnemonic, policy.String())
	}

	d.bridge = audio.NewBridge(d.metrics)
	d.monitor = audio.NewLevelMonitor(audio.TXSampleRate)
	d.vox = audio.NewVOX(
		cfg.Audio.VOX.ThresholdDB,
		ms(cfg.Audio.VOX.HangMs),
		d.voxEnabled,
		func(on bool) error { return d.dispatcher.SetPTT(on, "vox") },
	)

	d.openAudio()

	supOpts := supervisor.Options{
		Config: supervisor.Config{
			RXTimeout:      ms(cfg.Supervisor.RXTimeoutMs),
			TXTimeout:      ms(cfg.Supervisor.TXTimeoutMs),
			MaxRetries:     cfg.Supervisor.MaxRetries,
			BackoffInitial: ms(cfg.Supervisor.BackoffInitialMs),
			BackoffMax:     ms(cfg.Supervisor.BackoffMaxMs),
		},
		Dispatcher: d.dispatcher,
		Bridge:     d.bridge,
		OpenLink:   d.openLink,
		Bus:        d.bus,
		VOX:        d.vox,
		Monitor:    d.monitor,
	}
	// Assign streams only when they exist, so the supervisor's interface
	// fields stay nil rather than wrapping a nil pointer.
	if d.playback != nil {
		supOpts.Playback = d.playback
	}
	if d.capture != nil {
		supOpts.Capture = d.capture
	}
	d.supervisor = supervisor.New(supOpts)

	if !cfg.PowerMonitor.Disabled {
		d.powerMon = supervisor.NewPowerMonitor(supervisor.PowerMonitorOptions{
			Interval:  ms(cfg.PowerMonitor.IntervalMs),
			Grace:     ms(cfg.PowerMonitor.GraceMs),
			ZeroLimit: cfg.PowerMonitor.ZeroLimit,
			Session:   d.supervisor.CurrentSession,
			Trigger:   d.supervisor.Trigger,
			TXStart:   d.supervisor.LastTXStart,
			Bus:       d.bus,
		})
	}

	if cfg.MQTT.Enabled {
		d.publisher = telemetry.NewPublisher(cfg.MQTT, d.bus, d.statusSnapshot)
	}

	if !cfg.Web.Disabled {
		d.setupWebServer()
	}

	return d, nil
}

// voxEnabled reports whether VOX keying should act on captured audio,
// either from the config or from a client VX command.
func (d *Daemon) voxEnabled() bool {
	return d.config.Audio.VOX.Enabled || d.dispatcher.State().VOXEnabled()
}

// openLink is the supervisor's connection factory. Each call builds a
// fresh serial link and virtual CAT endpoint.
func (d *Daemon) openLink() (supervisor.Session, error) {
	return seriallink.Open(seriallink.Config{
		Device:   d.config.Radio.Device,
		BaudRate: d.config.Radio.BaudRate,
		UseMock:  d.config.Radio.UseMock,
		PortPath: d.config.CAT.PortPath,
		Warmup:   ms(d.config.Radio.WarmupMs),
		Settle:   ms(d.config.Radio.SettleMs),
		Speaker:  d.config.Radio.Speaker,
	})
}

// openAudio brings up the host sound devices. Failures leave the daemon
// running CAT-only, matching what a headless install gets on purpose.
func (d *Daemon) openAudio() {
	if d.config.Audio.Headless {
		d.log.Infof("headless mode, host audio disabled")
		return
	}

	if err := audio.Initialize(); err != nil {
		d.log.Warnf("audio unavailable, running CAT-only: %v", err)
		return
	}
	d.audioUp = true

	playback, err := audio.OpenPlayback(d.config.Audio.OutputDevice)
	if err != nil {
		d.log.Warnf("playback device open failed: %v", err)
	} else {
		d.playback = playback
	}

	capture, err := audio.OpenCapture(d.config.Audio.InputDevice)
	if err != nil {
		d.log.Warnf("capture device open failed: %v", err)
	} else {
		d.capture = capture
	}
}

// Start brings up every component. The supervisor's first connection
// happens on its own goroutine so a slow radio never blocks startup.
func (d *Daemon) Start() error {
	d.log.Infof("starting trusdxd daemon...")

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.supervisor.Run(d.ctx); err != nil {
			select {
			case d.failed <- err:
			default:
			}
		}
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.metrics.RunObserver(d.ctx, d.bus)
	}()

	if d.powerMon != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.powerMon.Run(d.ctx)
		}()
	}

	if d.publisher != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.publisher.Run(d.ctx)
		}()
	}

	if d.webServer != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.log.Infof("starting web server on %s", d.webServer.Addr)
			if err := d.webServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				d.log.Errorf("web server error: %v", err)
			}
		}()
	}

	d.wg.Add(1)
	go d.statusDriver()

	return nil
}

// Stop shuts everything down in dependency order.
func (d *Daemon) Stop() error {
	d.log.Infof("stopping daemon...")

	d.cancel()

	if d.webServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.webServer.Shutdown(ctx); err != nil {
			d.log.Warnf("web server shutdown error: %v", err)
		}
	}

	d.wg.Wait()

	if d.playback != nil {
		d.playback.Close()
	}
	if d.capture != nil {
		d.capture.Close()
	}
	if d.audioUp {
		audio.Terminate()
	}

	d.log.Infof("daemon stopped")
	return nil
}

// Failed delivers the supervisor's terminal error, if it ever gives up.
func (d *Daemon) Failed() <-chan error {
	return d.failed
}

// setupWebServer builds the HTTP API router.
func (d *Daemon) setupWebServer() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api/v1")
	{
		api.GET("/status", d.handleGetStatus)
		api.GET("/state", d.handleGetState)
		api.POST("/ptt", d.handleSetPTT)
		api.PUT("/radio/frequency", d.handleSetFrequency)
		api.GET("/devices/audio", d.handleGetAudioDevices)
		api.GET("/devices/serial", d.handleGetSerialDevices)
		api.GET("/config", d.handleGetConfig)
		api.POST("/config", d.handleSaveConfig)
		api.GET("/audio/levels", d.handleGetAudioLevels)
		api.GET("/audio/spectrum", d.handleGetSpectrum)
		api.GET("/audio/ws", d.handleAudioWebSocket)
		api.GET("/events/ws", d.handleEventsWebSocket)
	}

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{})))

	addr := fmt.Sprintf("%s:%d", d.config.Web.BindAddress, d.config.Web.Port)
	d.webServer = &http.Server{
		Addr:    addr,
		Handler: router,
	}
}

// statusDriver feeds the slow-path gauges and periodic level events.
func (d *Daemon) statusDriver() {
	defer d.wg.Done()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.metrics.SetRXQueueDepth(d.bridge.QueueDepth())

			if d.powerMon != nil {
				if watts, at := d.powerMon.LastReading(); !at.IsZero() {
					d.metrics.SetPowerWatts(watts)
				}
			}

			level := d.monitor.Current()
			if level.Timestamp != 0 {
				d.bus.Publish(events.KindAudioLevel, map[string]interface{}{
					"rms_db":   level.RMSDB,
					"peak_db":  level.PeakDB,
					"clipping": level.Clipping,
				})
			}
		}
	}
}

// statusSnapshot collects the fields shared by the status endpoint and
// the MQTT status topic.
func (d *Daemon) statusSnapshot() map[string]interface{} {
	snap := d.dispatcher.State().Snapshot()
	status := d.supervisor.Status()

	fields := map[string]interface{}{
		"state":      status.State,
		"reconnects": status.Reconnects,
		"frequency":  snap.VFOAFreq,
		"mode":       string(snap.Mode),
		"tx":         snap.TXActive,
		"uptime":     int64(time.Since(d.startTime).Seconds()),
	}
	if d.powerMon != nil {
		if watts, at := d.powerMon.LastReading(); !at.IsZero() {
			fields["power_watts"] = watts
		}
	}
	return fields
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
