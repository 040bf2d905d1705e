package controlplane

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/fentz26/flightops/internal/models"
	"github.com/fentz26/flightops/internal/store"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
)

// Version is reported by /health.
var Version = "dev"

// maxCallbackBytes bounds authority callback bodies.
const maxCallbackBytes = 1 << 20

// StatsProvider exposes scheduler statistics.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// Server provides the HTTP API for flightops.
type Server struct {
	service   *Service
	scheduler StatsProvider
	addr      string
	log       *logrus.Entry
	echo      *echo.Echo
	server    *http.Server
}

// NewServer creates a new HTTP server and registers its routes.
func NewServer(service *Service, addr string, log *logrus.Entry) *Server {
	s := &Server{
		service: service,
		addr:    addr,
		log:     log,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.problemHandler
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("flightops"))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := log.WithFields(logrus.Fields{
				"method":  v.Method,
				"uri":     v.URI,
				"status":  v.Status,
				"latency": v.Latency,
			})
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Debug("request")
			return nil
		},
	}))

	s.echo = e
	s.routes()
	return s
}

// SetScheduler wires scheduler statistics into /scheduler/stats.
func (s *Server) SetScheduler(p StatsProvider) {
	s.scheduler = p
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) routes() {
	e := s.echo

	e.GET("/health", s.handleHealth)

	// Plan endpoints
	e.POST("/plans", s.createPlan)
	e.GET("/plans", s.listPlans)
	e.GET("/plans/:id", s.getPlan)
	e.POST("/plans/:id/queue", s.queuePlan)
	e.PUT("/plans/:id/reference", s.setReference)

	// Result endpoints
	e.GET("/plans/:id/result", s.getResult)
	e.GET("/plans/:id/result/summary", s.getResultSummary)
	e.DELETE("/plans/:id/result", s.deleteResult)
	e.POST("/results/fetch", s.fetchResults)
	e.POST("/results/delete", s.deleteResults)

	// Worker endpoints
	e.GET("/workers", s.listWorkers)
	e.POST("/workers", s.addWorker)
	e.PUT("/workers/:id/status", s.setWorkerStatus)
	e.DELETE("/workers/:id", s.deleteWorker)

	// Authority callback
	e.POST("/fas/:responseNumber", s.authorizationCallback)

	e.GET("/audit", s.listAudit)
	e.GET("/scheduler/stats", s.schedulerStats)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.echo,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	s.log.WithField("addr", s.addr).Info("http server listening")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid id %q", c.Param("id")))
	}
	return id, nil
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{
		OK:      true,
		DB:      "ok",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if err := s.service.Health(c.Request().Context()); err != nil {
		resp.OK = false
		resp.DB = err.Error()
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, resp)
}

// --- Plan Handlers ---

type createPlanRequest struct {
	Name                   string `json:"name"`
	Payload                string `json:"payload"`
	Owner                  string `json:"owner"`
	Folder                 string `json:"folder"`
	ExternalResponseNumber string `json:"external_response_number"`
	Hold                   bool   `json:"hold"`
}

func (s *Server) createPlan(c echo.Context) error {
	var req createPlanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
	}

	plan, err := s.service.CreatePlan(c.Request().Context(), store.NewPlan{
		Name:                   req.Name,
		Payload:                req.Payload,
		Owner:                  req.Owner,
		Folder:                 req.Folder,
		ExternalResponseNumber: req.ExternalResponseNumber,
		Hold:                   req.Hold,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, plan)
}

func (s *Server) listPlans(c echo.Context) error {
	plans, err := s.service.ListPlans(c.Request().Context(), c.QueryParam("status"))
	if err != nil {
		return toHTTPError(err)
	}
	if plans == nil {
		plans = []models.FlightPlan{}
	}
	return c.JSON(http.StatusOK, plans)
}

func (s *Server) getPlan(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	plan, err := s.service.GetPlan(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, plan)
}

func (s *Server) queuePlan(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	plan, err := s.service.QueuePlan(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, plan)
}

type referenceRequest struct {
	ExternalResponseNumber string `json:"external_response_number"`
}

func (s *Server) setReference(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req referenceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
	}
	plan, err := s.service.SetReference(c.Request().Context(), id, req.ExternalResponseNumber)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, plan)
}

// --- Result Handlers ---

func (s *Server) getResult(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	res, err := s.service.GetResult(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	c.Response().Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="plan-%d.csv"`, id))
	return c.Blob(http.StatusOK, echo.MIMEOctetStream, res.Payload)
}

func (s *Server) getResultSummary(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	summary, err := s.service.ResultSummary(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, summary)
}

func (s *Server) deleteResult(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := s.service.DeleteResult(c.Request().Context(), id); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type idsRequest struct {
	IDs []int64 `json:"ids"`
}

// ResultPayload is a result with its payload, base64 encoded in JSON.
type ResultPayload struct {
	PlanID    int64     `json:"plan_id"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	Payload   []byte    `json:"payload"`
}

func (s *Server) fetchResults(c echo.Context) error {
	var req idsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
	}
	results, err := s.service.FetchResults(c.Request().Context(), req.IDs)
	if err != nil {
		return toHTTPError(err)
	}
	out := make([]ResultPayload, 0, len(results))
	for _, r := range results {
		out = append(out, ResultPayload{PlanID: r.PlanID, Size: r.Size, CreatedAt: r.CreatedAt, Payload: r.Payload})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) deleteResults(c echo.Context) error {
	var req idsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
	}
	n, err := s.service.DeleteResults(c.Request().Context(), req.IDs)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"deleted": n})
}

// --- Worker Handlers ---

func (s *Server) listWorkers(c echo.Context) error {
	workers, err := s.service.ListWorkers(c.Request().Context())
	if err != nil {
		return toHTTPError(err)
	}
	if workers == nil {
		workers = []models.Worker{}
	}
	return c.JSON(http.StatusOK, workers)
}

func (s *Server) addWorker(c echo.Context) error {
	var req models.WorkerSpec
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
	}
	w, err := s.service.AddWorker(c.Request().Context(), req.Name, req.Address)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, w)
}

type workerStatusRequest struct {
	Availability string `json:"availability"`
}

func (s *Server) setWorkerStatus(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req workerStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
	}
	w, err := s.service.SetWorkerAvailability(c.Request().Context(), id, req.Availability)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, w)
}

func (s *Server) deleteWorker(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := s.service.DeleteWorker(c.Request().Context(), id); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// --- Authority Handler ---

func (s *Server) authorizationCallback(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxCallbackBytes))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	plan, err := s.service.ApplyAuthorization(c.Request().Context(), c.Param("responseNumber"), body)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, plan)
}

// --- Audit and Stats ---

func (s *Server) listAudit(c echo.Context) error {
	var planID int64
	if v := c.QueryParam("plan_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid plan_id %q", v))
		}
		planID = id
	}
	limit := 100
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
		}
		limit = n
	}

	records, err := s.service.ListAudit(c.Request().Context(), planID, limit)
	if err != nil {
		return toHTTPError(err)
	}
	if records == nil {
		records = []models.AssignmentRecord{}
	}
	return c.JSON(http.StatusOK, records)
}

func (s *Server) schedulerStats(c echo.Context) error {
	if s.scheduler == nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"running": false})
	}
	stats := s.scheduler.GetStats()
	stats["running"] = true
	return c.JSON(http.StatusOK, stats)
}
