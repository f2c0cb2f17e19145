package api

import (
	_ "embed"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/Joeycho/xnat-dicomweb-proxy/internal/dicomweb"
)

//go:embed static/dicomweb-test.html
var testPage []byte

// RouterOptions configures the middleware NewRouter installs.
type RouterOptions struct {
	ServiceName    string
	AllowedOrigins []string
}

// NewRouter builds the gin engine with logging, recovery, CORS and tracing
// middleware and every route registered.
func NewRouter(service *dicomweb.Service, opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = opts.AllowedOrigins
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = []string{"*"}
	}
	corsConfig.AllowMethods = []string{"GET", "HEAD", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Accept", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Type", "Content-Length"}
	router.Use(cors.New(corsConfig))

	if opts.ServiceName != "" {
		router.Use(otelgin.Middleware(opts.ServiceName))
	}

	RegisterRoutes(router, service)
	return router
}

// RegisterRoutes sets up the API routes.
func RegisterRoutes(router *gin.Engine, service *dicomweb.Service) {
	handler := NewAPIHandler(service)

	router.GET("/healthz", handler.HealthCheckHandler)

	dw := router.Group("/dicomweb")
	{
		dw.GET("/test", func(c *gin.Context) {
			c.Data(http.StatusOK, "text/html; charset=utf-8", testPage)
		})

		project := dw.Group("/projects/:projectId", IdentifyUser())
		{
			project.GET("/studies", handler.SearchStudiesHandler)
			project.GET("/studies/:study", handler.RetrieveStudyHandler)
			project.GET("/studies/:study/metadata", handler.StudyMetadataHandler)
			project.GET("/studies/:study/series", handler.SearchSeriesHandler)
			project.GET("/studies/:study/series/:series", handler.RetrieveSeriesHandler)
			project.GET("/studies/:study/series/:series/metadata", handler.SeriesMetadataHandler)
			project.GET("/studies/:study/series/:series/instances", handler.SearchInstancesHandler)
			project.GET("/studies/:study/series/:series/instances/:instance", handler.RetrieveInstanceHandler)
			project.GET("/studies/:study/series/:series/instances/:instance/metadata", handler.InstanceMetadataHandler)
			project.GET("/studies/:study/series/:series/instances/:instance/rendered", handler.RenderedHandler)
			project.GET("/studies/:study/series/:series/instances/:instance/frames/:frames/rendered", handler.RenderedFramesHandler)
		}
	}
}
