package ops

import (
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/mock/gomock"

	"github.com/classgrade/gradepipe/internal/config"
	mockintake "github.com/classgrade/gradepipe/internal/intake/mock"
	"github.com/classgrade/gradepipe/internal/models"
	mockrecord "github.com/classgrade/gradepipe/internal/record/mock"
	"github.com/classgrade/gradepipe/internal/taskrunner"
	mockupload "github.com/classgrade/gradepipe/internal/upload/mock"
	"github.com/classgrade/gradepipe/internal/validator"
)

// Does a request and forwards errors to the error handler like the normal execution path
func doRequest(e *echo.Echo, c echo.Context, handler echo.HandlerFunc) {
	err := handler(c)
	if err != nil {
		e.HTTPErrorHandler(err, c)
	}
}

type fixture struct {
	store    *mockrecord.MockStorer
	queuer   *mockintake.MockQueuer
	archiver *mockupload.MockUploader
	tasks    *taskrunner.Client
	handler  Handler
	echo     *echo.Echo
}

// newFixture builds a handler on mocks. The gorm handle stays nil: handlers
// only reach the database through the store, the handle exists for the basic
// auth validator alone.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctrl := gomock.NewController(t)

	f := &fixture{
		store:    mockrecord.NewMockStorer(ctrl),
		queuer:   mockintake.NewMockQueuer(ctrl),
		archiver: mockupload.NewMockUploader(ctrl),
		tasks:    taskrunner.Create(),
	}

	cfg := &config.Config{
		Course: &config.CourseConfig{ID: "cs101"},
	}
	f.handler = NewHandler(nil, f.store, f.queuer, f.archiver, f.tasks, cfg)

	e := echo.New()
	validate := validator.Create()
	e.Validator = &validate
	f.echo = e

	return f
}

func operatorKey() *models.OperatorKey {
	return &models.OperatorKey{
		Model:       models.Model{ID: uuid.New()},
		Note:        "course staff",
		Permissions: models.OperatorPermissions{Read: true, Operate: true},
		Active:      models.NewNullFromData(true),
	}
}
