package labreport

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/labinsight/labinsight/internal/platform/blobstore"
	"github.com/labinsight/labinsight/internal/platform/openapi"
	"github.com/labinsight/labinsight/pkg/pagination"
)

type Handler struct {
	svc       *Service
	maxUpload int64
}

// NewHandler builds the report handler. Uploads larger than maxUpload bytes
// are rejected with 413; zero disables the check.
func NewHandler(svc *Service, maxUpload int64) *Handler {
	return &Handler{svc: svc, maxUpload: maxUpload}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/reports", h.UploadReport)
	api.GET("/reports", h.ListReports)
	api.GET("/reports/user/:user_id", h.ListUserReports)
	api.GET("/reports/:id", h.GetReport)
	api.GET("/reports/:id/document", h.GetDocument)
	api.GET("/reports/:id/insights", h.GetInsights)
	api.GET("/reports/:id/chart-data", h.GetChartData)
	api.DELETE("/reports/:id", h.DeleteReport)

	api.POST("/insights/explain", h.Explain)
	api.POST("/insights/alert", h.Alert)
}

// Operations describes the routes RegisterRoutes mounts, for the API document.
func (h *Handler) Operations() []openapi.Operation {
	idErrors := map[int]string{http.StatusBadRequest: "Invalid id", http.StatusNotFound: "Report not found"}
	with := func(base map[int]string, extra map[int]string) map[int]string {
		out := make(map[int]string, len(base)+len(extra))
		for k, v := range base {
			out[k] = v
		}
		for k, v := range extra {
			out[k] = v
		}
		return out
	}
	return []openapi.Operation{
		{Method: http.MethodPost, Path: "/reports", Summary: "Upload and analyze a lab report", Tag: "Reports", RequestBody: "multipart",
			Responses: map[int]string{
				http.StatusCreated:               "Analyzed report",
				http.StatusBadRequest:            "Missing or empty file, or user_id too long",
				http.StatusRequestEntityTooLarge: "File too large",
				http.StatusUnsupportedMediaType:  "Unsupported file type",
				http.StatusUnprocessableEntity:   "Document could not be analyzed",
				http.StatusServiceUnavailable:    "Analysis temporarily unavailable",
			}},
		{Method: http.MethodGet, Path: "/reports", Summary: "List reports, optionally for one user_id", Tag: "Reports",
			Responses: map[int]string{http.StatusOK: "Paged reports", http.StatusBadRequest: "user_id too long"}},
		{Method: http.MethodGet, Path: "/reports/user/:user_id", Summary: "List one user's reports", Tag: "Reports",
			Responses: map[int]string{http.StatusOK: "Paged reports", http.StatusBadRequest: "Missing or too long user_id"}},
		{Method: http.MethodGet, Path: "/reports/:id", Summary: "Get a report", Tag: "Reports",
			Responses: with(idErrors, map[int]string{http.StatusOK: "Report"})},
		{Method: http.MethodGet, Path: "/reports/:id/document", Summary: "Download the original document", Tag: "Reports", Binary: true,
			Responses: with(idErrors, map[int]string{http.StatusOK: "Document bytes"})},
		{Method: http.MethodGet, Path: "/reports/:id/insights", Summary: "Report insights", Tag: "Reports",
			Responses: with(idErrors, map[int]string{http.StatusOK: "Insights"})},
		{Method: http.MethodGet, Path: "/reports/:id/chart-data", Summary: "Chart series for a report", Tag: "Reports",
			Responses: with(idErrors, map[int]string{http.StatusOK: "Chart data"})},
		{Method: http.MethodDelete, Path: "/reports/:id", Summary: "Delete a report and its document", Tag: "Reports",
			Responses: with(idErrors, map[int]string{http.StatusNoContent: "Deleted"})},
		{Method: http.MethodPost, Path: "/insights/explain", Summary: "Explain an abnormal value", Tag: "Insights", RequestBody: "json",
			Responses: map[int]string{http.StatusOK: "Explanation", http.StatusBadRequest: "Invalid request"}},
		{Method: http.MethodPost, Path: "/insights/alert", Summary: "Alert text for an abnormal value", Tag: "Insights", RequestBody: "json",
			Responses: map[int]string{http.StatusOK: "Alert message", http.StatusBadRequest: "Invalid request"}},
	}
}

// -- Reports --

// maxUserIDLen bounds the optional owner reference on uploads and filters.
const maxUserIDLen = 128

// userID reads an optional owner reference from a form or query value.
func userID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if len(id) > maxUserIDLen {
		return "", echo.NewHTTPError(http.StatusBadRequest, "user_id is too long")
	}
	return id, nil
}

func (h *Handler) UploadReport(c echo.Context) error {
	owner, err := userID(c.FormValue("user_id"))
	if err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	if h.maxUpload > 0 && fh.Size > h.maxUpload {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file too large")
	}
	contentType := fh.Header.Get(echo.HeaderContentType)
	if contentType != "" && !Supported(contentType) {
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, "unsupported file type: "+contentType)
	}

	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not read file")
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not read file")
	}
	if len(content) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "file is empty")
	}

	report, err := h.svc.Process(c.Request().Context(), Upload{
		UserID:      owner,
		FileName:    fh.Filename,
		ContentType: contentType,
		Content:     content,
	})
	if err != nil {
		return analysisHTTPError(err)
	}
	return c.JSON(http.StatusCreated, report)
}

// analysisHTTPError maps a pipeline failure to a response that carries only
// the patient-facing message.
func analysisHTTPError(err error) error {
	var ae *AnalysisError
	switch {
	case errors.Is(err, ErrUnsupportedContentType):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, "unsupported file type")
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file too large")
	case errors.As(err, &ae) && errors.Is(err, ErrInferenceUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, ae.UserMessage())
	case errors.As(err, &ae):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, ae.UserMessage())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, UserMessage(err))
}

// ListReports pages through reports, optionally for one ?user_id.
func (h *Handler) ListReports(c echo.Context) error {
	owner, err := userID(c.QueryParam("user_id"))
	if err != nil {
		return err
	}
	var query url.Values
	if owner != "" {
		query = url.Values{"user_id": {owner}}
	}
	return h.listReports(c, ReportFilter{UserID: owner}, query)
}

// ListUserReports is ListReports with the owner in the path.
func (h *Handler) ListUserReports(c echo.Context) error {
	owner, err := userID(c.Param("user_id"))
	if err != nil {
		return err
	}
	if owner == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}
	return h.listReports(c, ReportFilter{UserID: owner}, nil)
}

func (h *Handler) listReports(c echo.Context, filter ReportFilter, query url.Values) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListReports(c.Request().Context(), filter, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Report{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL.Path, query))
}

func (h *Handler) GetReport(c echo.Context) error {
	r, err := h.loadReport(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) GetDocument(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rc, meta, err := h.svc.Document(c.Request().Context(), id)
	if errors.Is(err, ErrReportNotFound) || errors.Is(err, blobstore.ErrBlobNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "document not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer rc.Close()

	contentType := meta.ContentType
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	if meta.FileName != "" {
		c.Response().Header().Set(echo.HeaderContentDisposition,
			`inline; filename="`+strings.ReplaceAll(meta.FileName, `"`, "")+`"`)
	}
	return c.Stream(http.StatusOK, contentType, rc)
}

func (h *Handler) GetInsights(c echo.Context) error {
	r, err := h.loadReport(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, BuildInsights(r))
}

func (h *Handler) GetChartData(c echo.Context) error {
	r, err := h.loadReport(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, BuildChartData(r))
}

func (h *Handler) DeleteReport(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	err = h.svc.DeleteReport(c.Request().Context(), id)
	if errors.Is(err, ErrReportNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "report not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) loadReport(c echo.Context) (*Report, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	r, err := h.svc.GetReport(c.Request().Context(), id)
	if errors.Is(err, ErrReportNotFound) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "report not found")
	}
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return r, nil
}

// -- On-demand insights --

type ExplainRequest struct {
	TestName string  `json:"test_name"`
	Value    string  `json:"value"`
	Unit     *string `json:"unit"`
	Status   Status  `json:"status"`
}

type AlertRequest struct {
	TestName string   `json:"test_name"`
	Status   Status   `json:"status"`
	Severity Severity `json:"severity"`
}

func (h *Handler) Explain(c echo.Context) error {
	var req ExplainRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.TestName) == "" || strings.TrimSpace(req.Value) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "test_name and value are required")
	}
	req.Status = Status(strings.ToUpper(string(req.Status)))
	if !req.Status.IsAbnormal() {
		return echo.NewHTTPError(http.StatusBadRequest, "status must be LOW or HIGH")
	}
	text := h.svc.Explain(c.Request().Context(), Observation{
		TestName:      req.TestName,
		ObservedValue: req.Value,
		Unit:          req.Unit,
	}, req.Status)
	return c.JSON(http.StatusOK, map[string]string{"explanation": text})
}

func (h *Handler) Alert(c echo.Context) error {
	var req AlertRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.TestName) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "test_name is required")
	}
	req.Status = Status(strings.ToUpper(string(req.Status)))
	req.Severity = Severity(strings.ToLower(string(req.Severity)))
	if !req.Status.IsAbnormal() || !req.Severity.Alerting() {
		return echo.NewHTTPError(http.StatusBadRequest, "status must be LOW or HIGH and severity yellow or red")
	}
	text := h.svc.Alert(c.Request().Context(), req.TestName, req.Status, req.Severity)
	return c.JSON(http.StatusOK, map[string]string{"alert_message": text})
}
