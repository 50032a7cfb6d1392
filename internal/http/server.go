package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"carejournal/internal/core"
	"carejournal/pkg"
)

// DefaultMaxAudioBytes matches the upload limit of the transcription service.
const DefaultMaxAudioBytes = 25 << 20

// formOverhead is the room left in a request body for the text fields and
// multipart framing around the audio upload.
const formOverhead = 1 << 20

const bodyLimitKey = "body_limit"

// Subscriber yields new-note notifications until ctx is cancelled.  Both
// db.Notifier and db.Broadcaster satisfy it.
type Subscriber interface {
	Listen(ctx context.Context) (<-chan pkg.NoteNotification, error)
}

// Server bundles together the dependencies required by HTTP handlers.
type Server struct {
	Pipeline      *core.Pipeline
	Roster        []pkg.PatientSummary
	Subscriber    Subscriber
	Gatherer      prometheus.Gatherer
	MaxAudioBytes int64
	Logger        zerolog.Logger
}

// NewServer constructs a Server.  Subscriber and Gatherer are optional and
// may be set on the returned value before calling Echo.
func NewServer(pipeline *core.Pipeline, roster []pkg.PatientSummary, logger zerolog.Logger) *Server {
	if roster == nil {
		roster = []pkg.PatientSummary{}
	}
	return &Server{
		Pipeline:      pipeline,
		Roster:        roster,
		MaxAudioBytes: DefaultMaxAudioBytes,
		Logger:        logger,
	}
}

// Echo builds the HTTP router with the global middleware stack and all
// routes registered.
func (s *Server) Echo(corsOrigins []string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(Recovery(s.Logger))
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		RequestIDHandler: func(c echo.Context, id string) { c.Set("request_id", id) },
	}))
	e.Use(Logger(s.Logger))
	e.Use(BodyLimit(s.MaxAudioBytes + formOverhead))
	if len(corsOrigins) > 0 {
		e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins: corsOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost},
			AllowHeaders: []string{"Content-Type", "X-Request-ID"},
		}))
	}

	s.RegisterRoutes(e)
	return e
}

// RegisterRoutes mounts the doctor and patient APIs plus the operational
// endpoints on e.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{
			ErrorHandling: promhttp.HTTPErrorOnError,
		})))
	}

	doctor := e.Group("/api/doctor")
	doctor.GET("/patients", s.ListPatients)
	doctor.GET("/patient/:patientId/history", s.GetPatientHistory)
	doctor.POST("/note", s.CreateClinicalNote)

	patient := e.Group("/api/patient")
	patient.GET("/:patientId/diary", s.ListDiaryEntries)
	patient.POST("/:patientId/diary", s.CreateDiaryEntry)
	patient.GET("/:patientId/notifications", s.ListNotifications)
	patient.GET("/:patientId/notifications/stream", s.StreamNotifications)
}

// Logger logs one line per request.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get("request_id").(string)

			err := next(c)
			status := c.Response().Status
			var he *echo.HTTPError
			if errors.As(err, &he) {
				status = he.Code
			}

			evt := logger.Info()
			if err != nil && status >= http.StatusInternalServerError {
				evt = logger.Error().Err(err)
			}
			evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return err
		}
	}
}

// BodyLimit rejects request bodies larger than limit bytes.  A declared
// Content-Length over the limit is refused before anything is read; other
// bodies are cut off once the limit is passed.
func BodyLimit(limit int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}
			if req.ContentLength > limit {
				return bodyTooLargeError(limit)
			}
			body := &limitedReadCloser{ReadCloser: req.Body, remaining: limit}
			req.Body = body
			c.Set(bodyLimitKey, body)
			return next(c)
		}
	}
}

var errBodyTooLarge = errors.New("request body too large")

// limitedReadCloser fails every read once more than its limit has been read.
type limitedReadCloser struct {
	io.ReadCloser
	remaining int64
	exceeded  bool
}

func (r *limitedReadCloser) Read(p []byte) (int, error) {
	if r.exceeded {
		return 0, errBodyTooLarge
	}
	if int64(len(p)) > r.remaining+1 {
		p = p[:r.remaining+1]
	}
	n, err := r.ReadCloser.Read(p)
	r.remaining -= int64(n)
	if r.remaining < 0 {
		r.exceeded = true
		return 0, errBodyTooLarge
	}
	return n, err
}

// bodyLimitExceeded reports whether BodyLimit cut off the request body.
func bodyLimitExceeded(c echo.Context) bool {
	body, ok := c.Get(bodyLimitKey).(*limitedReadCloser)
	return ok && body.exceeded
}

func bodyTooLargeError(limit int64) error {
	return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
		fmt.Sprintf("request body exceeds the %d byte limit", limit))
}

// Recovery turns handler panics into 500 responses.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					var stack [4096]byte
					n := runtime.Stack(stack[:], false)

					logger.Error().
						Str("request_id", fmt.Sprintf("%v", c.Get("request_id"))).
						Str("panic", fmt.Sprintf("%v", r)).
						Str("stack", string(stack[:n])).
						Msg("panic recovered")

					err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
				}
			}()
			return next(c)
		}
	}
}
