package router

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/helpy/paths"
	"github.com/richoz-sanitaire/intervention-service/api"
	"github.com/richoz-sanitaire/intervention-service/internal/handler"
	"github.com/richoz-sanitaire/intervention-service/internal/logger"
	"github.com/richoz-sanitaire/intervention-service/internal/model"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps — всё, что нужно для сборки HTTP-слоя.
type Deps struct {
	DB            *gorm.DB
	Log           *zap.Logger
	WebhookSecret string
	JWTSecret     string

	Webhooks      *handler.WebhookHandler
	Inbox         *handler.InboxHandler
	Interventions *handler.InterventionHandler
	Reports       *handler.ReportHandler
	Invoices      *handler.InvoiceHandler
}

func New(d Deps) http.Handler {
	handler.RegisterValidation()

	r := gin.New()
	r.Use(gin.Recovery(), logger.GinMiddleware(d.Log))
	r.GET(paths.PathHealth, handler.Health)
	r.GET(paths.PathReady, handler.Ready(d.DB))
	r.GET(paths.PathSwagger, func(c *gin.Context) { c.Redirect(http.StatusFound, paths.PathSwagger+"/") })
	r.GET(paths.PathSwagger+"/*any", func(c *gin.Context) {
		if strings.TrimPrefix(c.Param("any"), "/") == "openapi.json" {
			c.Data(http.StatusOK, "application/json", api.OpenAPISpec)
			return
		}
		if strings.TrimPrefix(c.Param("any"), "/") == "" {
			c.Request.URL.Path = paths.PathSwagger + "/index.html"
			c.Request.RequestURI = paths.PathSwagger + "/index.html"
		}
		ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL(paths.PathSwagger+"/openapi.json"))(c)
	})

	// /api/webhooks — старые пути платформы автоматизации.
	for _, prefix := range []string{"/webhooks", "/api/webhooks"} {
		wh := r.Group(prefix, handler.WebhookAuth(d.WebhookSecret))
		{
			wh.POST("/email-ingestion", d.Webhooks.EmailIngestion)
			wh.POST("/calendar-sync", d.Webhooks.CalendarSync)
			wh.POST("/report-submit", d.Webhooks.ReportSubmit)
			wh.POST("/invoice-validate", d.Webhooks.InvoiceValidate)
			wh.POST("/transcribe-audio", d.Webhooks.TranscribeAudio)
		}
	}

	office := handler.RequireRole(model.RoleAdmin, model.RoleSecretary)
	field := handler.RequireRole(model.RoleAdmin, model.RoleTechnician)

	v1 := r.Group("/api/v1", handler.JWTAuth(d.JWTSecret))
	{
		v1.GET("/inbox", office, d.Inbox.List)
		v1.GET("/inbox/:id", office, d.Inbox.Get)
		v1.POST("/inbox/:id/plan", office, d.Inbox.Plan)
		v1.POST("/inbox/:id/ignore", office, d.Inbox.Ignore)
		v1.POST("/inbox/:id/archive", office, d.Inbox.Archive)

		v1.GET("/interventions", d.Interventions.List)
		v1.GET("/interventions/:id", d.Interventions.Get)
		v1.POST("/interventions", office, d.Interventions.Create)
		v1.POST("/interventions/:id/start", field, d.Interventions.Start)
		v1.POST("/interventions/:id/cancel", office, d.Interventions.Cancel)
		v1.POST("/interventions/:id/report", handler.RequireRole(model.RoleTechnician), d.Interventions.SubmitReport)

		v1.GET("/reports", office, d.Reports.List)
		v1.GET("/reports/:id", d.Reports.Get)
		v1.POST("/reports/:id/validate", office, d.Reports.Validate)
		v1.POST("/reports/:id/reject", office, d.Reports.Reject)

		v1.GET("/invoices", office, d.Invoices.List)
		v1.GET("/invoices/:id", office, d.Invoices.Get)
		v1.PATCH("/invoices/:id/status", office, d.Invoices.UpdateStatus)
	}

	return r
}
