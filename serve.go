package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"croprec/crop"
	"croprec/db"
	chttp "croprec/http"
	"croprec/monitoring"
	"croprec/mqtt"
	"croprec/pipeline"
	"croprec/recommend"
)

// loadPipeline never fails: on an artifact error it returns a disabled
// pipeline together with the error.
func (a *app) loadPipeline() (*pipeline.Pipeline, error) {
	fields, err := a.cfg.FormFields()
	if err != nil {
		return nil, err
	}
	contract, err := a.cfg.Contract()
	if err != nil {
		return nil, err
	}
	return pipeline.Load(a.cfg.ArtifactFiles(), contract,
		pipeline.WithFields(fields),
		pipeline.WithCacheSize(a.cfg.Cache.Size),
		pipeline.WithLogger(a.logger))
}

func (a *app) serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger := a.logger

	p, err := a.loadPipeline()
	if p == nil {
		return err
	}
	if err != nil {
		logger.Error("model artifacts failed to load, predictions disabled", zap.Error(err))
	} else {
		logger.Info("model artifacts loaded",
			zap.String("source", p.Artifacts().Source()),
			zap.Strings("features", p.Artifacts().Contract().Strings()),
			zap.Int("classes", len(p.Artifacts().Classes())))
	}

	var history recommend.History
	if path := a.cfg.Database.Path; path != "" {
		store, err := db.Open(path)
		if err != nil {
			logger.Warn("prediction history disabled", zap.String("path", path), zap.Error(err))
		} else {
			defer store.Close()
			history = store
		}
	}

	images := crop.NewImageIndex(a.cfg.Images.Dir, "/images/", logger)
	if a.cfg.Images.Watch {
		err = images.Watch()
	} else {
		err = images.Load()
	}
	if err != nil {
		logger.Warn("crop images unavailable", zap.String("dir", images.Dir()), zap.Error(err))
	}
	defer images.Close()

	hub := monitoring.NewHub(logger)
	hub.Start()
	defer hub.Stop()

	svc := recommend.NewService(recommend.Deps{
		Pipeline: p,
		History:  history,
		Feed:     hub,
		Images:   images,
		Stats:    monitoring.NewStats(hub),
		Logger:   logger,
	})

	if a.cfg.MQTT.Broker != "" {
		bridge, closeMQTT, err := a.startMQTT(svc)
		if err != nil {
			logger.Error("mqtt bridge disabled", zap.Error(err))
		} else {
			defer closeMQTT()
			defer bridge.Stop()
		}
	}

	server := chttp.NewServer(chttp.ServerConfig{
		Port:           a.cfg.HTTP.Port,
		ReadTimeout:    a.cfg.HTTP.ReadTimeout,
		WriteTimeout:   a.cfg.HTTP.WriteTimeout,
		RequestTimeout: a.cfg.HTTP.RequestTimeout,
		MaxBodyBytes:   a.cfg.HTTP.MaxBodyBytes,
		AllowedOrigins: a.cfg.HTTP.AllowedOrigins,
	}, chttp.Deps{
		Service:   svc,
		Hub:       hub,
		ImagesDir: a.cfg.Images.Dir,
		Logger:    logger,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	logger.Info("exiting")
	return nil
}

func (a *app) startMQTT(svc *recommend.Service) (*mqtt.Bridge, func(), error) {
	client, err := mqtt.NewClient(mqtt.ClientConfig{
		Broker:   a.cfg.MQTT.Broker,
		ClientID: a.cfg.MQTT.ClientID,
		Username: a.cfg.MQTT.Username,
		Password: a.cfg.MQTT.Password,
	}, a.logger)
	if err != nil {
		return nil, nil, err
	}
	bridge := mqtt.NewBridge(client.Native(), mqtt.BridgeConfig{
		ReadingsTopic: a.cfg.MQTT.ReadingsTopic,
		ReplyTopic:    a.cfg.MQTT.ReplyTopic,
		QoS:           byte(a.cfg.MQTT.QoS),
		Timeout:       a.cfg.MQTT.Timeout,
	}, svc, svc.Fields(), a.logger)
	if err := bridge.Start(); err != nil {
		client.Close()
		return nil, nil, err
	}
	return bridge, client.Close, nil
}
