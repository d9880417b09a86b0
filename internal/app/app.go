package app

import (
	"fmt"
	"net/http"

	"peoplecounter/internal/config"
	"peoplecounter/internal/logger"
	"peoplecounter/internal/repository"
	"peoplecounter/internal/repository/sqlite"
	"peoplecounter/internal/route"
	"peoplecounter/internal/service"
	"peoplecounter/internal/service/ai"
	"peoplecounter/internal/service/render"
	"peoplecounter/internal/service/websocket"
)

type App struct {
	config    *config.Config
	logger    *logger.Logger
	db        *sqlite.DB
	detectors []*ai.Detector
	hub       *websocket.Hub
	pipeline  *service.Pipeline
	repo      repository.ImageRepository
}

func NewApp() (*App, error) {
	cfg := config.Load()
	log := logger.NewLogger(cfg)

	var (
		db   *sqlite.DB
		repo repository.ImageRepository
	)
	if cfg.DBPath == "" {
		log.Warning("DB_PATH not set - running degraded: no caching, no persistence")
	} else {
		var err error
		db, err = sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		repo = sqlite.NewImageRepository(db)
	}

	detectors := make([]*ai.Detector, 0, cfg.ModelPoolSize)
	pool := make([]service.Detector, 0, cfg.ModelPoolSize)
	for i := 0; i < cfg.ModelPoolSize; i++ {
		d := ai.NewDetector(cfg, log)
		detectors = append(detectors, d)
		pool = append(pool, d)
	}

	hub := websocket.NewHub(log)
	pipeline := service.NewPipeline(pool, render.New(cfg), repo, hub, cfg.OutputDirectory, log)

	return &App{
		config:    cfg,
		logger:    log,
		db:        db,
		detectors: detectors,
		hub:       hub,
		pipeline:  pipeline,
		repo:      repo,
	}, nil
}

func (a *App) Run() error {
	go a.hub.Run()

	router := route.SetupRoutes(a.pipeline, a.repo, a.hub, a.config, a.logger)

	fmt.Printf("🚀 People Counter Server\n")
	fmt.Printf("📍 URL: http://localhost:%d\n", a.config.Port)
	fmt.Printf("🤖 Model: %s\n", a.config.ModelPath)
	if a.config.DBPath != "" {
		fmt.Printf("💾 Database: %s\n", a.config.DBPath)
	} else {
		fmt.Printf("💾 Database: none (degraded mode)\n")
	}

	return http.ListenAndServe(fmt.Sprintf(":%d", a.config.Port), router)
}

func (a *App) Close() {
	for _, d := range a.detectors {
		d.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
