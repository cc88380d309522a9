package labreport

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newTestHandler(llm *fakeCompleter, pages ...string) (*Handler, *echo.Echo) {
	svc := newTestService(llm, pages...)
	h := NewHandler(svc, 1<<20)
	e := echo.New()
	return h, e
}

func multipartUpload(t *testing.T, fileName, contentType string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName+`"`)
	hdr.Set("Content-Type", contentType)
	part, err := w.CreatePart(hdr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	part.Write(content)
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T: %v", err, err)
	}
	return he.Code
}

func uploadReport(t *testing.T, h *Handler, e *echo.Echo) *Report {
	t.Helper()
	rec := httptest.NewRecorder()
	c := e.NewContext(multipartUpload(t, "lab.pdf", "application/pdf", []byte("%PDF")), rec)
	if err := h.UploadReport(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var r Report
	if err := json.Unmarshal(rec.Body.Bytes(), &r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return &r
}

func TestHandler_UploadReport(t *testing.T) {
	h, e := newTestHandler(healthyCompleter(glucoseExtraction), glucoseReport)
	rec := httptest.NewRecorder()
	c := e.NewContext(multipartUpload(t, "lab.pdf", "application/pdf", []byte("%PDF")), rec)

	if err := h.UploadReport(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result := body["result"].(map[string]interface{})
	if result["overall_status"] != "needs_attention" {
		t.Errorf("expected needs_attention, got %v", result["overall_status"])
	}
	obs := result["observations"].([]interface{})
	first := obs[0].(map[string]interface{})
	if first["status"] != "HIGH" || first["severity"] != "red" || first["test_name"] != "Glucose" {
		t.Errorf("unexpected observation JSON: %v", first)
	}
}

func TestHandler_UploadReport_Errors(t *testing.T) {
	tests := []struct {
		name        string
		llm         *fakeCompleter
		pages       []string
		contentType string
		content     []byte
		wantCode    int
		wantMessage string
	}{
		{
			name: "unsupported type", llm: healthyCompleter(glucoseExtraction), pages: []string{glucoseReport},
			contentType: "application/zip", content: []byte("PK"), wantCode: http.StatusUnsupportedMediaType,
		},
		{
			name: "too large", llm: healthyCompleter(glucoseExtraction), pages: []string{glucoseReport},
			contentType: "application/pdf", content: bytes.Repeat([]byte("x"), 1<<20+1), wantCode: http.StatusRequestEntityTooLarge,
		},
		{
			name: "insufficient text", llm: healthyCompleter(glucoseExtraction), pages: []string{"short"},
			contentType: "application/pdf", content: []byte("%PDF"), wantCode: http.StatusUnprocessableEntity,
			wantMessage: "Could not read enough text from the document. Please upload a clearer or text-based report.",
		},
		{
			name: "no observations", llm: healthyCompleter(`{"tests":[]}`), pages: []string{longText},
			contentType: "application/pdf", content: []byte("%PDF"), wantCode: http.StatusUnprocessableEntity,
			wantMessage: "This does not look like a recognizable lab report.",
		},
		{
			name: "malformed", llm: healthyCompleter("I am not JSON"), pages: []string{longText},
			contentType: "application/pdf", content: []byte("%PDF"), wantCode: http.StatusUnprocessableEntity,
			wantMessage: "The report format was not recognized.",
		},
		{
			name: "inference unavailable", llm: newFakeCompleter(), pages: []string{longText},
			contentType: "application/pdf", content: []byte("%PDF"), wantCode: http.StatusServiceUnavailable,
			wantMessage: "Report analysis is temporarily unavailable.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, e := newTestHandler(tt.llm, tt.pages...)
			c := e.NewContext(multipartUpload(t, "lab.pdf", tt.contentType, tt.content), httptest.NewRecorder())

			err := h.UploadReport(c)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := httpCode(t, err); got != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, got)
			}
			if tt.wantMessage != "" && err.(*echo.HTTPError).Message != tt.wantMessage {
				t.Errorf("expected message %q, got %v", tt.wantMessage, err.(*echo.HTTPError).Message)
			}
		})
	}
}

func TestHandler_UploadReport_MissingFile(t *testing.T) {
	h, e := newTestHandler(healthyCompleter(glucoseExtraction), glucoseReport)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.UploadReport(c)
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if got := httpCode(t, err); got != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", got)
	}
}

func TestHandler_GetReport(t *testing.T) {
	h, e := newTestHandler(healthyCompleter(glucoseExtraction), glucoseReport)
	created := uploadReport(t, h, e)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(created.ID.String())
	if err := h.GetReport(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_GetReport_NotFound(t *testing.T) {
	h, e := newTestHandler(nil)
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	err := h.GetReport(c)
	if err == nil {
		t.Fatal("expected error for not found")
	}
	if got := httpCode(t, err); got != http.StatusNotFound {
		t.Errorf("expected 404, got %d", got)
	}
}

func TestHandler_GetReport_InvalidID(t *testing.T) {
	h, e := newTestHandler(nil)
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")

	if got := httpCode(t, h.GetReport(c)); got != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", got)
	}
}

func TestHandler_ListReports(t *testing.T) {
	h, e := newTestHandler(healthyCompleter(glucoseExtraction), glucoseReport)
	uploadReport(t, h, e)
	uploadReport(t, h, e)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/reports?limit=1", nil), rec)
	if err := h.ListReports(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Data    []Report `json:"data"`
		Total   int      `json:"total"`
		HasMore bool     `json:"has_more"`
		Links   struct {
			Next string `json:"next"`
		} `json:"links"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body.Total != 2 || len(body.Data) != 1 || !body.HasMore {
		t.Errorf("unexpected page: total=%d items=%d has_more=%v", body.Total, len(body.Data), body.HasMore)
	}
	if body.Links.Next != "/api/v1/reports?limit=1&offset=1" {
		t.Errorf("unexpected next link %q", body.Links.Next)
	}
}

func ownedUpload(t *testing.T, owner string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("user_id", owner); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="lab.pdf"`)
	hdr.Set("Content-Type", "application/pdf")
	part, err := w.CreatePart(hdr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	part.Write([]byte("%PDF"))
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

func TestHandler_ListReports_ByUser(t *testing.T) {
	h, e := newTestHandler(healthyCompleter(glucoseExtraction), glucoseReport)
	for _, owner := range []string{"user-1", " user-1 ", "user-2"} {
		rec := httptest.NewRecorder()
		if err := h.UploadReport(e.NewContext(ownedUpload(t, owner), rec)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(rec.Body.String(), `"user_id":"`+strings.TrimSpace(owner)+`"`) {
			t.Errorf("expected owner in upload response, got %s", rec.Body.String())
		}
	}
	uploadReport(t, h, e)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/reports?user_id=user-1&limit=1", nil), rec)
	if err := h.ListReports(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Data  []Report `json:"data"`
		Total int      `json:"total"`
		Links struct {
			Next string `json:"next"`
		} `json:"links"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body.Total != 2 || len(body.Data) != 1 || body.Data[0].UserID != "user-1" {
		t.Errorf("unexpected page: total=%d items=%+v", body.Total, body.Data)
	}
	if body.Links.Next != "/api/v1/reports?limit=1&offset=1&user_id=user-1" {
		t.Errorf("expected the filter in the next link, got %q", body.Links.Next)
	}
}

func TestHandler_ListUserReports(t *testing.T) {
	h, e := newTestHandler(healthyCompleter(glucoseExtraction), glucoseReport)
	for _, owner := range []string{"user-1", "user-2", "user-1"} {
		if err := h.UploadReport(e.NewContext(ownedUpload(t, owner), httptest.NewRecorder())); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/reports/user/user-2", nil), rec)
	c.SetParamNames("user_id")
	c.SetParamValues("user-2")
	if err := h.ListUserReports(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Data  []Report `json:"data"`
		Total int      `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body.Total != 1 || len(body.Data) != 1 || body.Data[0].UserID != "user-2" {
		t.Errorf("unexpected page: total=%d items=%+v", body.Total, body.Data)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/reports/user/%20", nil), httptest.NewRecorder())
	c.SetParamNames("user_id")
	c.SetParamValues(" ")
	if got := httpCode(t, h.ListUserReports(c)); got != http.StatusBadRequest {
		t.Errorf("blank owner: expected 400, got %d", got)
	}
}

func TestHandler_UserIDTooLong(t *testing.T) {
	h, e := newTestHandler(healthyCompleter(glucoseExtraction), glucoseReport)
	long := strings.Repeat("u", maxUserIDLen+1)

	c := e.NewContext(ownedUpload(t, long), httptest.NewRecorder())
	if got := httpCode(t, h.UploadReport(c)); got != http.StatusBadRequest {
		t.Errorf("upload: expected 400, got %d", got)
	}
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/reports?user_id="+long, nil), httptest.NewRecorder())
	if got := httpCode(t, h.ListReports(c)); got != http.StatusBadRequest {
		t.Errorf("list: expected 400, got %d", got)
	}
}

func TestHandler_ListReports_Empty(t *testing.T) {
	h, e := newTestHandler(nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/reports", nil), rec)
	if err := h.ListReports(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"data":[]`) {
		t.Errorf("expected an empty data array, got %s", rec.Body.String())
	}
}

func TestHandler_GetDocument(t *testing.T) {
	h, e := newTestHandler(healthyCompleter(glucoseExtraction), glucoseReport)
	created := uploadReport(t, h, e)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(created.ID.String())
	if err := h.GetDocument(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Body.String() != "%PDF" {
		t.Errorf("unexpected document body %q", rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "application/pdf" {
		t.Errorf("expected application/pdf, got %q", ct)
	}
	if cd := rec.Header().Get(echo.HeaderContentDisposition); !strings.Contains(cd, "lab.pdf") {
		t.Errorf("expected file name in Content-Disposition, got %q", cd)
	}
}

func TestHandler_GetInsights(t *testing.T) {
	h, e := newTestHandler(healthyCompleter(glucoseExtraction), glucoseReport)
	created := uploadReport(t, h, e)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(created.ID.String())
	if err := h.GetInsights(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var in Insights
	if err := json.Unmarshal(rec.Body.Bytes(), &in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.Statistics.CriticalCount != 1 || in.Statistics.HealthScore != 0 {
		t.Errorf("unexpected statistics: %+v", in.Statistics)
	}
}

func TestHandler_GetChartData(t *testing.T) {
	h, e := newTestHandler(healthyCompleter(glucoseExtraction), glucoseReport)
	created := uploadReport(t, h, e)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(created.ID.String())
	if err := h.GetChartData(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var cd ChartData
	if err := json.Unmarshal(rec.Body.Bytes(), &cd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cd.TestResults) != 1 || cd.TestResults[0].Value != 180 {
		t.Errorf("unexpected chart points: %+v", cd.TestResults)
	}
}

func TestHandler_DeleteReport(t *testing.T) {
	h, e := newTestHandler(healthyCompleter(glucoseExtraction), glucoseReport)
	created := uploadReport(t, h, e)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(created.ID.String())
	if err := h.DeleteReport(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(created.ID.String())
	if got := httpCode(t, h.DeleteReport(c)); got != http.StatusNotFound {
		t.Errorf("expected 404 on second delete, got %d", got)
	}
}

func TestHandler_Explain(t *testing.T) {
	h, e := newTestHandler(healthyCompleter(""))
	body := `{"test_name":"Glucose","value":"180","unit":"mg/dL","status":"high"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Explain(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), "above the usual range") {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_Explain_FallbackWhenUnavailable(t *testing.T) {
	h, e := newTestHandler(nil)
	body := `{"test_name":"Glucose","value":"180","status":"HIGH"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Explain(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), FallbackGuidance) {
		t.Errorf("expected fallback guidance, got %s", rec.Body.String())
	}
}

func TestHandler_Explain_BadRequest(t *testing.T) {
	h, e := newTestHandler(nil)
	for _, body := range []string{
		`{"value":"180","status":"HIGH"}`,
		`{"test_name":"Glucose","value":"180","status":"NORMAL"}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		c := e.NewContext(req, httptest.NewRecorder())
		if got := httpCode(t, h.Explain(c)); got != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, got)
		}
	}
}

func TestHandler_Alert(t *testing.T) {
	h, e := newTestHandler(healthyCompleter(""))
	body := `{"test_name":"Glucose","status":"HIGH","severity":"RED"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Alert(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), "alert_message") {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"test_name":"Glucose","status":"HIGH","severity":"green"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c = e.NewContext(req, httptest.NewRecorder())
	if got := httpCode(t, h.Alert(c)); got != http.StatusBadRequest {
		t.Errorf("expected 400 for green severity, got %d", got)
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, e := newTestHandler(nil)
	h.RegisterRoutes(e.Group("/api/v1"))

	want := map[string]bool{
		"POST /api/v1/reports":               false,
		"GET /api/v1/reports":                false,
		"GET /api/v1/reports/user/:user_id":  false,
		"GET /api/v1/reports/:id":            false,
		"GET /api/v1/reports/:id/document":   false,
		"GET /api/v1/reports/:id/insights":   false,
		"GET /api/v1/reports/:id/chart-data": false,
		"DELETE /api/v1/reports/:id":         false,
		"POST /api/v1/insights/explain":      false,
		"POST /api/v1/insights/alert":        false,
	}
	for _, r := range e.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for route, found := range want {
		if !found {
			t.Errorf("route %s not registered", route)
		}
	}
}

func TestHandler_OperationsMatchRoutes(t *testing.T) {
	h, e := newTestHandler(nil)
	h.RegisterRoutes(e.Group(""))

	described := make(map[string]bool)
	for _, op := range h.Operations() {
		described[op.Method+" "+op.Path] = true
		if len(op.Responses) == 0 {
			t.Errorf("%s %s has no responses", op.Method, op.Path)
		}
	}
	for _, r := range e.Routes() {
		if !described[r.Method+" "+r.Path] {
			t.Errorf("route %s %s is not described", r.Method, r.Path)
		}
	}
	if len(described) != len(e.Routes()) {
		t.Errorf("expected %d described operations, got %d", len(e.Routes()), len(described))
	}
}
