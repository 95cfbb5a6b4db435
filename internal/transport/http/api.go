package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"live-session-service/internal/app"
	"live-session-service/internal/domain"
)

// Options wires the HTTP surface.
type Options struct {
	Service      *app.Service
	WS           *WSHandler
	JWTSecret    string
	LecturerRole string
	Logger       *slog.Logger
	// DisableRequestLogs silences per-request logging (tests).
	DisableRequestLogs bool
}

type api struct {
	svc *app.Service
}

// NewServer builds the echo application serving the REST routes, the socket
// endpoint and a health check.
func NewServer(opts Options) *echo.Echo {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	v := newRequestValidator()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = v
	e.HTTPErrorHandler = newHTTPErrorHandler(logger, v)

	e.Pre(middleware.RemoveTrailingSlash())
	if !opts.DisableRequestLogs {
		e.Use(requestLogger(logger))
	}
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	if opts.WS != nil {
		e.GET("/ws", echo.WrapHandler(http.HandlerFunc(opts.WS.ServeWS)))
	}

	h := &api{svc: opts.Service}
	lecturer := []echo.MiddlewareFunc{lecturerJWT(opts.JWTSecret), requireRole(opts.LecturerRole)}

	sessions := e.Group("/sessions")
	sessions.POST("/join", h.joinSession)

	// student routes carry the student-session ID header
	sessions.GET("/:id/student", h.studentSnapshot)
	sessions.GET("/:id/stats", h.studentStats)
	sessions.POST("/:id/responses", h.submitResponse)
	sessions.POST("/:id/student-questions", h.submitStudentQuestion)
	sessions.POST("/:id/student-questions/:questionId/upvote", h.upvoteStudentQuestion)
	sessions.POST("/:id/poll", h.submitPollResponse)

	sessions.POST("", h.createSession, lecturer...)
	sessions.GET("", h.listSessions, lecturer...)
	sessions.GET("/:id", h.getSession, lecturer...)
	sessions.POST("/:id/start", h.startSession, lecturer...)
	sessions.POST("/:id/end", h.endSession, lecturer...)
	sessions.POST("/:id/questions/:questionId/launch", h.launchQuestion, lecturer...)
	sessions.PATCH("/:id/student-questions/:questionId/answered", h.toggleAnswered, lecturer...)
	sessions.POST("/:id/students/:studentId/action", h.studentAction, lecturer...)
	sessions.GET("/:id/analytics", h.analytics, lecturer...)

	return e
}

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			logger.Info("http request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", c.Response().Status,
				"latency", time.Since(start),
			)
			return nil
		}
	}
}

type createSessionRequest struct {
	Title     string               `json:"title" validate:"required,notblank"`
	CourseID  string               `json:"courseId" validate:"required"`
	Questions []domain.NewQuestion `json:"questions" validate:"dive"`
}

type joinSessionRequest struct {
	InvitationCode string `json:"invitationCode" validate:"required"`
	Name           string `json:"name" validate:"required,notblank"`
	ExternalID     string `json:"externalId" validate:"required"`
}

type submitResponseRequest struct {
	QuestionID string `json:"questionId" validate:"required"`
	Answer     string `json:"answer" validate:"required,notblank"`
}

type studentQuestionRequest struct {
	Text string `json:"text" validate:"required,notblank"`
}

type studentActionRequest struct {
	Action string `json:"action" validate:"required"`
}

type pollRequest struct {
	Answer domain.PollAnswer `json:"answer" validate:"required"`
}

type sessionWithQuestions struct {
	domain.Session
	Questions []domain.Question `json:"questions"`
}

func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return err
	}
	return c.Validate(req)
}

// ownedSession resolves :id to a session the authenticated lecturer owns.
func (h *api) ownedSession(c echo.Context) (domain.Session, error) {
	lecturer, err := lecturerID(c)
	if err != nil {
		return domain.Session{}, err
	}
	return h.svc.SessionOwnedBy(c.Request().Context(), c.Param("id"), lecturer)
}

func (h *api) createSession(c echo.Context) error {
	lecturer, err := lecturerID(c)
	if err != nil {
		return err
	}
	var req createSessionRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	session, questions, err := h.svc.CreateSession(c.Request().Context(), lecturer, req.Title, req.CourseID, req.Questions)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, sessionWithQuestions{Session: session, Questions: questions})
}

func (h *api) listSessions(c echo.Context) error {
	lecturer, err := lecturerID(c)
	if err != nil {
		return err
	}
	sessions, err := h.svc.ListSessions(c.Request().Context(), lecturer)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sessions)
}

func (h *api) getSession(c echo.Context) error {
	session, err := h.ownedSession(c)
	if err != nil {
		return err
	}
	snap, err := h.svc.GetSessionSnapshot(c.Request().Context(), session.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *api) startSession(c echo.Context) error {
	session, err := h.ownedSession(c)
	if err != nil {
		return err
	}
	started, err := h.svc.StartSession(c.Request().Context(), session.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, started)
}

func (h *api) endSession(c echo.Context) error {
	session, err := h.ownedSession(c)
	if err != nil {
		return err
	}
	ended, err := h.svc.EndSession(c.Request().Context(), session.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ended)
}

func (h *api) launchQuestion(c echo.Context) error {
	session, err := h.ownedSession(c)
	if err != nil {
		return err
	}
	q, err := h.svc.LaunchQuestion(c.Request().Context(), session.ID, c.Param("questionId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, q)
}

func (h *api) toggleAnswered(c echo.Context) error {
	session, err := h.ownedSession(c)
	if err != nil {
		return err
	}
	sq, err := h.svc.ToggleAnswered(c.Request().Context(), session.ID, c.Param("questionId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sq)
}

func (h *api) studentAction(c echo.Context) error {
	session, err := h.ownedSession(c)
	if err != nil {
		return err
	}
	var req studentActionRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	student, err := h.svc.StudentAction(c.Request().Context(), session.ID, c.Param("studentId"), req.Action)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, student)
}

func (h *api) analytics(c echo.Context) error {
	session, err := h.ownedSession(c)
	if err != nil {
		return err
	}
	out, err := h.svc.GetAnalytics(c.Request().Context(), session.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *api) joinSession(c echo.Context) error {
	var req joinSessionRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	res, err := h.svc.JoinSession(c.Request().Context(), req.InvitationCode, req.Name, req.ExternalID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *api) studentSnapshot(c echo.Context) error {
	student, err := studentID(c)
	if err != nil {
		return err
	}
	snap, err := h.svc.GetStudentSnapshot(c.Request().Context(), c.Param("id"), student)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *api) studentStats(c echo.Context) error {
	student, err := studentID(c)
	if err != nil {
		return err
	}
	stats, err := h.svc.GetStudentStats(c.Request().Context(), c.Param("id"), student)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *api) submitResponse(c echo.Context) error {
	student, err := studentID(c)
	if err != nil {
		return err
	}
	var req submitResponseRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := h.svc.SubmitResponse(c.Request().Context(), c.Param("id"), student, req.QuestionID, req.Answer)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, resp)
}

func (h *api) submitStudentQuestion(c echo.Context) error {
	student, err := studentID(c)
	if err != nil {
		return err
	}
	var req studentQuestionRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	sq, err := h.svc.SubmitStudentQuestion(c.Request().Context(), c.Param("id"), student, req.Text)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, sq)
}

func (h *api) upvoteStudentQuestion(c echo.Context) error {
	student, err := studentID(c)
	if err != nil {
		return err
	}
	sq, err := h.svc.UpvoteStudentQuestion(c.Request().Context(), c.Param("id"), c.Param("questionId"), student)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sq)
}

func (h *api) submitPollResponse(c echo.Context) error {
	student, err := studentID(c)
	if err != nil {
		return err
	}
	var req pollRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := h.svc.SubmitPollResponse(c.Request().Context(), c.Param("id"), student, req.Answer)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, resp)
}
