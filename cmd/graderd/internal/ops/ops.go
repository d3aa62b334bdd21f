package ops

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
	echoswagger "github.com/swaggo/echo-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"github.com/classgrade/gradepipe/internal/config"
	"github.com/classgrade/gradepipe/internal/intake"
	"github.com/classgrade/gradepipe/internal/logger"
	"github.com/classgrade/gradepipe/internal/models"
	"github.com/classgrade/gradepipe/internal/record"
	"github.com/classgrade/gradepipe/internal/taskrunner"
	"github.com/classgrade/gradepipe/internal/upload"
	"github.com/classgrade/gradepipe/internal/validator"
)

const name = "github.com/classgrade/gradepipe/cmd/graderd/internal/ops"

var tracer = otel.Tracer(name)

// Handler serves the operator API: pipeline visibility (attention set,
// submission status) and the replay lever. It never grades anything itself;
// replays go back through the intake queue like any other message.
type Handler struct {
	DB       *gorm.DB
	store    record.Storer
	queuer   intake.Queuer
	archiver upload.Uploader
	tasks    *taskrunner.Client
	config   *config.Config
}

func NewHandler(
	db *gorm.DB,
	store record.Storer,
	queuer intake.Queuer,
	archiver upload.Uploader,
	tasks *taskrunner.Client,
	cfg *config.Config,
) Handler {
	return Handler{
		DB:       db,
		store:    store,
		queuer:   queuer,
		archiver: archiver,
		tasks:    tasks,
		config:   cfg,
	}
}

func BuildEcho(logger *slog.Logger) (*echo.Echo, error) {
	e := echo.New()

	validate := validator.Create()
	e.Validator = &validate

	e.Pre(
		middleware.AddTrailingSlashWithConfig(
			middleware.TrailingSlashConfig{Skipper: func(c echo.Context) bool {
				return strings.Contains(c.Request().URL.Path, "swagger")
			}},
		),
	)

	e.Use(
		otelecho.Middleware("gradepipe"),
		slogecho.NewWithConfig(logger, slogecho.Config{}),
	)

	e.GET("/health/", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/swagger/*", echoswagger.WrapHandler)

	return e, nil
}

func (h *Handler) AddRoutes(e *echo.Echo) {
	l := logger.Logger

	v1Group := e.Group("/v1", middleware.BasicAuth(h.BasicAuthValidator))

	if h.config.RateLimit != nil && h.config.RateLimit.GlobalPerMinute > 0 {
		v1Group.Use(
			middleware.RateLimiterWithConfig(
				NewRedisLimiter(
					h.config.RateLimit.RedisHost,
					"global",
					h.config.RateLimit.GlobalPerMinute,
					h.config.RateLimit.FailOpen,
				),
			),
		)
	} else {
		l.Warn("not configured to have a global rate limit")
	}

	v1Group.GET("/ping/", h.Ping)

	attentionGroup := v1Group.Group(
		"/attention",
		HasPermissions("auth", &models.OperatorPermissions{Read: true}),
	)
	attentionGroup.GET("/", h.ListAttention)
	attentionGroup.POST(
		"/:id/resolve/",
		h.ResolveAttention,
		HasPermissions("auth", &models.OperatorPermissions{Operate: true}),
	)

	submissionGroup := v1Group.Group(
		"/submissions/:fingerprint",
		HasPermissions("auth", &models.OperatorPermissions{Read: true}),
	)
	submissionGroup.GET("/", h.SubmissionStatus)
	submissionGroup.POST(
		"/replay/",
		h.ReplaySubmission,
		HasPermissions("auth", &models.OperatorPermissions{Operate: true}),
	)
}
