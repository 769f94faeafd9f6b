package main

import (
	"context"
	"time"

	"github.com/YiuTerran/go-gamenet/base/log"
	"github.com/YiuTerran/go-gamenet/config"
	"github.com/YiuTerran/go-gamenet/module"
	"github.com/YiuTerran/go-gamenet/network/engine"
	"github.com/YiuTerran/go-gamenet/prom"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the network server with the JSON echo application",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			log.Init(cfg.Log)
			defer log.Flush()
			mods, err := buildModules(cfg)
			if err != nil {
				return err
			}
			return module.Run(cmd.Context(), mods, nil)
		},
	}
}

func buildModules(cfg *config.Config) ([]module.Module, error) {
	ec, err := cfg.Engine()
	if err != nil {
		return nil, err
	}
	app, err := newEchoApp()
	if err != nil {
		return nil, err
	}
	svc, err := engine.New(ec, app.Handler())
	if err != nil {
		return nil, err
	}
	app.svc = svc
	mods := []module.Module{&networkModule{svc: svc}}
	if cfg.Metrics.Enable {
		reg, err := prom.NewRegistry(prom.NewCollector(cfg.Metrics.Namespace, svc.Stats))
		if err != nil {
			return nil, err
		}
		router := prom.NewRouter(reg, svc.Stats, svc.Health)
		mods = append(mods, &metricsModule{srv: prom.NewServer(cfg.Metrics.Address, router)})
	}
	return mods, nil
}

// networkModule 网络服务
type networkModule struct {
	svc *engine.Service
}

func (m *networkModule) Name() string {
	return "network"
}

func (m *networkModule) OnInit() error {
	return m.svc.Start(context.Background())
}

func (m *networkModule) Run(closeSig chan struct{}) {
	<-closeSig
}

func (m *networkModule) OnDestroy() {
	m.svc.Stop()
}

// metricsModule 指标和健康检查
type metricsModule struct {
	srv *prom.Server
}

func (m *metricsModule) Name() string {
	return "metrics"
}

func (m *metricsModule) OnInit() error {
	return m.srv.Start()
}

func (m *metricsModule) Run(closeSig chan struct{}) {
	<-closeSig
}

func (m *metricsModule) OnDestroy() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := m.srv.Stop(ctx); err != nil {
		log.Warn("fail to stop metrics server: %v", err)
	}
}
