package api

import (
	"time"

	"github.com/labstack/echo/v4"

	"TickLab/internal/domain/repository"
	"TickLab/internal/service/indicator"
	"TickLab/internal/service/stream"
	"TickLab/internal/usecase"
	xhttp "TickLab/pkg/http"
	applogger "TickLab/pkg/logger"
)

// Handler serves the read-only dashboard API plus runtime settings.
type Handler struct {
	log       *applogger.Logger
	stream    *stream.Client
	collector *usecase.EpochCollector
	predictor *usecase.PredictionCycle
	store     repository.RecordStore
	market    string
	userID    string
}

// NewHandler wires the API around the running components.
func NewHandler(
	log *applogger.Logger,
	streamClient *stream.Client,
	collector *usecase.EpochCollector,
	predictor *usecase.PredictionCycle,
	store repository.RecordStore,
	market, userID string,
) *Handler {
	return &Handler{
		log:       log,
		stream:    streamClient,
		collector: collector,
		predictor: predictor,
		store:     store,
		market:    market,
		userID:    userID,
	}
}

// RegisterRoutes implements http.Handler.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	g := e.Group("/api")
	g.GET("/status", h.Status)
	g.GET("/stats", h.Stats)
	g.GET("/epochs", h.Epochs)
	g.GET("/indicators", h.Indicators)
	g.PUT("/settings", h.UpdateSettings)
}

// StatusResponse is the aggregate runtime view.
type StatusResponse struct {
	Stream    StreamStatus            `json:"stream"`
	Collector usecase.CollectorStatus `json:"collector"`
	Predictor PredictorStatus         `json:"predictor"`
}

type StreamStatus struct {
	State      string `json:"state"`
	Connected  bool   `json:"connected"`
	RecentData bool   `json:"recent_data"`
	Attempts   int    `json:"attempts"`
	Market     string `json:"market"`
}

type PredictorStatus struct {
	Mode    string      `json:"mode"`
	Pending interface{} `json:"pending,omitempty"`
}

// Health reports record store reachability.
func (h *Handler) Health(c echo.Context) error {
	if err := h.store.Health(c.Request().Context()); err != nil {
		return xhttp.AppErrorResponse(c, xhttp.InternalErrorf("record store unreachable: %v", err))
	}
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

// Status returns the runtime state of all components.
func (h *Handler) Status(c echo.Context) error {
	return xhttp.SuccessResponse(c, StatusResponse{
		Stream: StreamStatus{
			State:      string(h.stream.State()),
			Connected:  h.stream.IsConnected(),
			RecentData: h.stream.HasRecentData(),
			Attempts:   h.stream.Attempts(),
			Market:     h.market,
		},
		Collector: h.collector.Status(),
		Predictor: PredictorStatus{
			Mode:    string(h.predictor.CurrentMode()),
			Pending: h.predictor.Pending(),
		},
	})
}

// Stats returns the prediction win/loss tally.
func (h *Handler) Stats(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.predictor.Stats())
}

// Epochs returns the most recent persisted epochs, newest first. An
// optional since parameter (RFC3339 or unix seconds) drops epochs that
// finished before it.
func (h *Handler) Epochs(c echo.Context) error {
	limit := xhttp.ParseIntDefault(c.QueryParam("limit"), 20)
	if limit < 1 || limit > 200 {
		return xhttp.BadRequestResponse(c, "limit must be between 1 and 200")
	}
	if raw := c.QueryParam("since"); raw != "" {
		if _, ok := xhttp.ParseTime(raw); !ok {
			return xhttp.BadRequestResponse(c, "since must be RFC3339 or unix seconds")
		}
	}
	since := xhttp.ParseTimeDefault(c.QueryParam("since"), time.Time{})
	epochs, err := h.store.RecentEpochs(c.Request().Context(), h.userID, limit)
	if err != nil {
		h.log.Error("list epochs failed", applogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}
	if !since.IsZero() {
		kept := epochs[:0]
		for _, ep := range epochs {
			if !ep.EndTime.Before(since) {
				kept = append(kept, ep)
			}
		}
		epochs = kept
	}
	return xhttp.ListResponse(c, epochs, int64(len(epochs)))
}

// IndicatorsResponse carries the indicator values over the recent window.
type IndicatorsResponse struct {
	Market    string  `json:"market"`
	Period    int     `json:"period"`
	Samples   int     `json:"samples"`
	SMA       float64 `json:"sma"`
	RSI       float64 `json:"rsi"`
	BollUpper float64 `json:"boll_upper"`
	BollMid   float64 `json:"boll_mid"`
	BollLower float64 `json:"boll_lower"`
}

// Indicators computes SMA, RSI and Bollinger Bands over recent ticks.
func (h *Handler) Indicators(c echo.Context) error {
	period := xhttp.ParseIntDefault(c.QueryParam("period"), 14)
	if period < 2 || period > 500 {
		return xhttp.BadRequestResponse(c, "period must be between 2 and 500")
	}
	ticks, err := h.store.RecentTicks(c.Request().Context(), h.market, period*4)
	if err != nil {
		h.log.Error("load ticks failed", applogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}
	series := make([]float64, len(ticks))
	for i, t := range ticks {
		series[i] = t.Value
	}
	upper, mid, lower := indicator.Bollinger(series, period, 2)
	return xhttp.SuccessResponse(c, IndicatorsResponse{
		Market:    h.market,
		Period:    period,
		Samples:   len(series),
		SMA:       indicator.SMA(series, period),
		RSI:       indicator.RSI(series, period),
		BollUpper: upper,
		BollMid:   mid,
		BollLower: lower,
	})
}

// UpdateSettingsRequest tunes the collector and the prediction cycle.
type UpdateSettingsRequest struct {
	BatchSize int    `json:"batch_size" validate:"omitempty,gte=10,lte=10000"`
	Mode      string `json:"mode" validate:"omitempty,oneof=strict normal fast"`
}

// UpdateSettings applies runtime settings. Unset fields keep their value.
func (h *Handler) UpdateSettings(c echo.Context) error {
	var req UpdateSettingsRequest
	if errs := xhttp.ReadAndValidateRequest(c, &req); errs != nil {
		return xhttp.BadRequestResponse(c, errs)
	}
	if req.BatchSize != 0 {
		if err := h.collector.SetBatchSize(c.Request().Context(), req.BatchSize); err != nil {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("batch size: %v", err))
		}
	}
	if req.Mode != "" {
		h.predictor.SetMode(usecase.Mode(req.Mode))
	}
	h.log.Info("settings updated",
		applogger.Int("batch_size", req.BatchSize),
		applogger.String("mode", req.Mode))
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"batch_size": h.collector.BatchSize(),
		"mode":       string(h.predictor.CurrentMode()),
	})
}
