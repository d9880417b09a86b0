package route

import (
	"net/http"

	"github.com/gorilla/mux"

	"peoplecounter/internal/config"
	"peoplecounter/internal/handler"
	"peoplecounter/internal/logger"
	"peoplecounter/internal/middleware"
	"peoplecounter/internal/repository"
	"peoplecounter/internal/service"
	"peoplecounter/internal/service/websocket"
)

// SetupRoutes registers the API endpoints and wraps them with the request-id
// and CORS middleware. Metadata patching additionally goes through the
// API-key check.
func SetupRoutes(pipeline *service.Pipeline, repo repository.ImageRepository, hub *websocket.Hub,
	cfg *config.Config, logger *logger.Logger) http.Handler {

	r := mux.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(cfg))

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/process", handler.ProcessHandler(pipeline, cfg, logger)).Methods(http.MethodPost)
	api.HandleFunc("/images", handler.ListImagesHandler(repo, logger)).Methods(http.MethodGet)
	api.HandleFunc("/images/{id}", handler.GetImageHandler(repo, logger)).Methods(http.MethodGet)
	api.Handle("/images/{id}",
		middleware.APIKey(cfg)(handler.PatchMetadataHandler(repo, logger))).Methods(http.MethodPatch)
	api.HandleFunc("/events", handler.EventsHandler(hub, logger)).Methods(http.MethodGet)

	return r
}
