// Command graphsyncd runs a demo instance of the subject graph sync engine:
// it dials a WebSocket connector through a one-connector worker pool, routes
// every inbound event through the engine's write-dispatch path (subject
// context, interceptor chain, structural diff, change bus), feeds the
// resulting changes to the outbound change-queue and retry-queue, and
// serves Prometheus metrics.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/evalgo/graphsync/changebus"
	"github.com/evalgo/graphsync/changequeue"
	"github.com/evalgo/graphsync/common"
	"github.com/evalgo/graphsync/config"
	"github.com/evalgo/graphsync/connector"
	"github.com/evalgo/graphsync/connector/wsconnector"
	"github.com/evalgo/graphsync/engine"
	"github.com/evalgo/graphsync/metrics"
	"github.com/evalgo/graphsync/registry"
	"github.com/evalgo/graphsync/retryqueue"
	"github.com/evalgo/graphsync/sourcectx"
	"github.com/evalgo/graphsync/statemanager"
	"github.com/evalgo/graphsync/subject"
	"github.com/evalgo/graphsync/subjectcontext"
	"github.com/evalgo/graphsync/version"
	"github.com/evalgo/graphsync/worker"
)

var cfgFile string

// defaultConnectorName identifies the sole connector this demo binary runs,
// both as its worker.Pool key and as the subject.Source token every write it
// originates is tagged with for loop suppression.
const defaultConnectorName = "default"

var rootCmd = &cobra.Command{
	Use:   "graphsyncd",
	Short: "runs a subject graph sync engine connector",
	Run:   run,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.graphsyncd.yaml)")
	rootCmd.PersistentFlags().String("connector-url", "", "WebSocket URL of the remote subject graph")
	rootCmd.PersistentFlags().String("metrics-addr", "", "address to serve /metrics on")
	viper.BindPFlag("connector_url", rootCmd.PersistentFlags().Lookup("connector-url"))
	viper.BindPFlag("metrics_addr", rootCmd.PersistentFlags().Lookup("metrics-addr"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".graphsyncd")
	}
	viper.SetEnvPrefix("GRAPHSYNCD")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("using config file:", viper.ConfigFileUsed())
	}
}

func run(cmd *cobra.Command, args []string) {
	svcLog := common.ServiceLogger("graphsyncd", version.GetModuleVersion())
	log := logrus.NewEntry(common.Logger)

	cfg := config.LoadEngineConfig("GRAPHSYNCD")
	if v := viper.GetString("connector_url"); v != "" {
		cfg.ConnectorURL = v
	}
	if v := viper.GetString("metrics_addr"); v != "" {
		cfg.MetricsAddr = v
	}
	if err := config.ValidateEngineConfig(cfg); err != nil {
		svcLog.WithError(err).Fatal("invalid configuration")
	}
	svcLog.Info("starting graphsyncd")

	met := metrics.New("graphsyncd")
	reg := registry.New()
	recentlyDeleted := sourcectx.NewRecentlyDeleted(cfg.RecentlyDeletedTtl, 1024)
	ops := statemanager.New(statemanager.Config{ServiceName: "graphsyncd"})

	bus := changebus.New(
		changebus.WithLogger(log.WithField("component", "changebus")),
		changebus.WithOnDropped(func(kind changebus.EventKind) {
			met.BusEventsDropped.WithLabelValues(kind.String()).Inc()
		}),
	)

	root := subjectcontext.New()
	graph := engine.New(engine.Config{
		Root:     root,
		Bus:      bus,
		Registry: reg,
		Metrics:  met,
		Logger:   log.WithField("component", "engine"),
	})

	var connectorSource subject.Source = defaultConnectorName

	transport := wsconnector.New(wsconnector.Config{
		URL:    cfg.ConnectorURL,
		Logger: log.WithField("component", "wsconnector"),
		Resolver: func(s subject.Subject) (string, bool) {
			return reg.TryGetExternalId(s)
		},
		Handlers: wsconnector.Handlers{
			OnPropertyChanged: func(p wsconnector.PropertyChangedPayload) {
				s, ok := reg.TryGet(p.ExternalID)
				if !ok {
					log.WithField("external_id", p.ExternalID).Warn("property_changed for unknown subject, dropping")
					return
				}
				ctx := sourcectx.WithSource(context.Background(), connectorSource)
				ctx = sourcectx.WithChangedTimestamp(ctx, subject.At(p.ChangedTimestamp))
				if err := graph.WriteProperty(ctx, s, p.Property, p.NewValue); err != nil {
					log.WithError(err).WithField("external_id", p.ExternalID).WithField("property", p.Property).Warn("inbound property write rejected")
				}
			},
			OnSubjectAdded: func(edge wsconnector.SubjectEdgePayload) {
				if recentlyDeleted.WasRecentlyDeleted(edge.ChildExternalID) {
					log.WithField("external_id", edge.ChildExternalID).Debug("suppressing delete-then-add echo")
					return
				}
				parent, ok := reg.TryGet(edge.ParentExternalID)
				if !ok {
					log.WithField("external_id", edge.ParentExternalID).Warn("subject_added for unknown parent, dropping")
					return
				}
				child, ok := reg.TryGet(edge.ChildExternalID)
				if !ok {
					log.WithField("external_id", edge.ChildExternalID).Warn("subject_added references an unregistered child, dropping")
					return
				}
				ctx := sourcectx.WithSource(context.Background(), connectorSource)
				ref := subject.PropertyReference{Subject: parent, Name: edge.Property}
				if err := graph.AttachSubject(ctx, ref, child, edge.Index, edge.Key); err != nil {
					log.WithError(err).WithField("external_id", edge.ChildExternalID).Warn("subject attach rejected")
				}
			},
			OnSubjectRemoved: func(edge wsconnector.SubjectEdgePayload) {
				recentlyDeleted.Mark(edge.ChildExternalID)
				parent, ok := reg.TryGet(edge.ParentExternalID)
				if !ok {
					return
				}
				child, ok := reg.TryGet(edge.ChildExternalID)
				if !ok {
					return
				}
				ctx := sourcectx.WithSource(context.Background(), connectorSource)
				ref := subject.PropertyReference{Subject: parent, Name: edge.Property}
				if err := graph.DetachSubject(ctx, ref, child, edge.Index, edge.Key); err != nil {
					log.WithError(err).WithField("external_id", edge.ChildExternalID).Warn("subject detach rejected")
				}
			},
		},
	})

	retryQ := retryqueue.New(retryqueue.Config{
		Capacity:     cfg.MaxQueueSize,
		MaxBatchSize: cfg.MaxBatchSize,
		Sender:       transport.WriteChangesInBatches,
		Logger:       log.WithField("component", "retryqueue"),
		OnDrop: func(dropped []subject.PropertyChange) {
			met.RetryQueueDropped.WithLabelValues("overflow").Add(float64(len(dropped)))
		},
	})

	changeQueue := changequeue.New(changequeue.Config{
		BufferTime:      cfg.BufferTime,
		ConnectorSource: connectorSource,
		Logger:          log.WithField("component", "changequeue"),
		Writer:          transport.WriteChangesInBatches,
		OnFailed: func(failed []subject.PropertyChange) {
			retryQ.Enqueue(failed...)
		},
		OnDropped: func(reason string) {
			met.ChangeQueueDropped.WithLabelValues(reason).Inc()
		},
		OnFlush: func(batchSize int, err error) {
			status := "ok"
			if err != nil {
				status = "error"
			}
			met.ChangeQueueFlushes.WithLabelValues(status).Inc()
			met.ChangeQueueBatchSize.Observe(float64(batchSize))
		},
	})

	pool := worker.NewPool(worker.Config{
		Connectors: map[string]connector.Config{
			defaultConnectorName: {
				Transport:  transport,
				RetryDelay: cfg.RetryTime,
				Logger:     log.WithField("component", "connector"),
				// Process is this connector's §4.J inbound processing step:
				// it subscribes to the change bus and feeds every locally
				// observed property change into this connector's outbound
				// change-queue, which itself discards anything originated
				// by this same connector (the loop guard).
				Process: func(ctx context.Context) error {
					subID := bus.Subscribe(changebus.ModeQueued, func(ev changebus.Event) {
						if ev.Kind != changebus.KindPropertyChanged {
							return
						}
						changeQueue.Enqueue(ctx, *ev.PropertyChange)
					})
					defer bus.Unsubscribe(subID)
					<-ctx.Done()
					return ctx.Err()
				},
			},
		},
		Logger: log.WithField("component", "worker"),
		OnStateChange: func(name string, prev, next connector.State) {
			met.RecordConnectorTransition(name, prev.String(), next.String())
			log.WithField("connector", name).WithField("from", prev).WithField("to", next).Info("connector state changed")

			opID := "connector-reconnect-" + name
			switch next {
			case connector.StateRetrying:
				ops.StartOperation(opID, "connector-reconnect", map[string]interface{}{"from": prev.String(), "connector": name})
			case connector.StateRunning:
				if prev == connector.StateRetrying {
					ops.CompleteOperation(opID, nil)
				}
			case connector.StateStopped:
				if prev == connector.StateRetrying {
					ops.CompleteOperation(opID, fmt.Errorf("connector stopped while retrying"))
				}
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changeQueue.Start(ctx)
	pool.Start(ctx)

	go func() {
		ticker := time.NewTicker(cfg.RetryTime)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				opID := fmt.Sprintf("retry-flush-%d", retryQ.Len())
				ops.StartOperation(opID, "retry-flush", nil)
				retryQ.Flush(ctx)
				ops.CompleteOperation(opID, nil)

				met.RetryQueueDepth.Set(float64(retryQ.Len()))
				met.ChangeQueueDepth.Set(float64(changeQueue.Pending()))
				met.RegistryEntries.Set(float64(reg.Len()))
			}
		}
	}()

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler()}
	go func() {
		log.WithField("addr", cfg.MetricsAddr).Info("serving metrics")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server stopped unexpectedly")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	svcLog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	metricsServer.Shutdown(shutdownCtx)

	changeQueue.Stop()
	pool.Stop()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Fatal("graphsyncd exited with error")
	}
}
