package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/voxtable/internal/capability"
	"github.com/MrWong99/voxtable/internal/health"
	"github.com/MrWong99/voxtable/internal/observe"
	"github.com/MrWong99/voxtable/internal/synth"
	"github.com/MrWong99/voxtable/internal/tablestore"
	"github.com/MrWong99/voxtable/internal/vision"
	"github.com/MrWong99/voxtable/internal/voicecmd"
	"github.com/MrWong99/voxtable/pkg/pipeline"
	"github.com/MrWong99/voxtable/pkg/table"
)

// --- capability stubs ---

type stubSuggester struct {
	sug *synth.Suggestion
	err error
}

func (s stubSuggester) Suggest(context.Context, synth.SuggestRequest) (*synth.Suggestion, error) {
	return s.sug, s.err
}

type stubParser struct {
	res *table.VoiceUpdateResult
	err error
}

func (p stubParser) Parse(context.Context, voicecmd.ParseRequest) (*table.VoiceUpdateResult, error) {
	return p.res, p.err
}

type stubExtractor struct {
	ex  *vision.Extraction
	err error
}

func (e stubExtractor) Extract(context.Context, []byte, string) (*vision.Extraction, error) {
	return e.ex, e.err
}

// --- harness ---

type harness struct {
	srv    *Server
	http   *httptest.Server
	store  *tablestore.MemStore
	saver  *tablestore.AsyncSaver
	client *http.Client
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	store := tablestore.NewMemStore()
	saver := tablestore.NewAsyncSaver(tablestore.SaverConfig{Store: store, Metrics: m})
	saver.Start(context.Background())

	cfg := Config{
		Store:          store,
		Saver:          saver,
		Metrics:        m,
		Health:         health.New(health.Checker{Name: "store", Check: func(context.Context) error { return nil }}),
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "# metrics\n") }),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s := New(cfg)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		saver.Stop()
		_ = mp.Shutdown(context.Background())
	})
	return &harness{srv: s, http: ts, store: store, saver: saver, client: ts.Client()}
}

func (h *harness) do(t *testing.T, method, path, contentType string, body []byte) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, h.http.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func (h *harness) doJSON(t *testing.T, method, path string, in, out any) int {
	t.Helper()
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			t.Fatalf("marshal: %v", err)
		}
	}
	code, data := h.do(t, method, path, "application/json", body)
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, data, err)
		}
	}
	return code
}

// seed stores a stock table with two rows and returns it.
func (h *harness) seed(t *testing.T, plan *pipeline.Pipeline) *table.Table {
	t.Helper()
	tbl := table.New("Stock", []table.Column{
		{ID: "col_0", Label: "Product", Type: table.TypeText},
		{ID: "col_1", Label: "Quantity", Type: table.TypeNumber},
	})
	tbl.AppendRow(table.Row{"col_0": "Apples", "col_1": 3.0})
	tbl.AppendRow(table.Row{"col_0": "Pears", "col_1": 5.0})
	tbl.WorkflowPlan = plan
	if err := h.store.Save(context.Background(), tbl); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return tbl
}

// --- tests ---

func TestTables_CRUD(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	var created table.Table
	code := h.doJSON(t, "POST", "/api/tables", tableInput{
		Name:    "  Inventory ",
		Columns: []table.Column{{ID: "a", Label: "Item"}, {ID: "b", Label: "Count", Type: table.TypeNumber}},
		Rows:    []table.Row{{"a": "bolts", "b": 40.0}},
	}, &created)
	if code != http.StatusCreated {
		t.Fatalf("create = %d", code)
	}
	if created.Name != "Inventory" || created.Columns[0].Type != table.TypeText || len(created.Rows) != 1 {
		t.Errorf("created = %+v", created)
	}

	var list []tableSummary
	if code := h.doJSON(t, "GET", "/api/tables", nil, &list); code != http.StatusOK {
		t.Fatalf("list = %d", code)
	}
	if len(list) != 1 || list[0].ID != created.ID || list[0].RowCount != 1 || list[0].ColumnCount != 2 {
		t.Errorf("list = %+v", list)
	}

	var replaced table.Table
	code = h.doJSON(t, "PUT", "/api/tables/"+created.ID, tableInput{
		Name:    "Inventory 2",
		Columns: created.Columns,
		Rows:    []table.Row{{"a": "bolts", "b": 41.0}, {"a": "nuts", "b": 7.0}},
	}, &replaced)
	if code != http.StatusOK {
		t.Fatalf("replace = %d", code)
	}
	if replaced.ID != created.ID || !replaced.CreatedAt.Equal(created.CreatedAt) || len(replaced.Rows) != 2 {
		t.Errorf("replaced = %+v", replaced)
	}
	if replaced.LastModified.Before(created.LastModified) {
		t.Errorf("LastModified went backwards")
	}

	var got table.Table
	if code := h.doJSON(t, "GET", "/api/tables/"+created.ID, nil, &got); code != http.StatusOK {
		t.Fatalf("get = %d", code)
	}
	if got.Name != "Inventory 2" {
		t.Errorf("get name = %q", got.Name)
	}

	if code, _ := h.do(t, "DELETE", "/api/tables/"+created.ID, "", nil); code != http.StatusNoContent {
		t.Fatalf("delete = %d", code)
	}
	if code, _ := h.do(t, "GET", "/api/tables/"+created.ID, "", nil); code != http.StatusNotFound {
		t.Fatalf("get after delete = %d, want 404", code)
	}
	if _, err := h.store.Get(context.Background(), created.ID); err == nil {
		t.Error("table still in store after delete")
	}
}

func TestTables_EditsReachStore(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	tbl := h.seed(t, nil)

	code := h.doJSON(t, "PUT", "/api/tables/"+tbl.ID, tableInput{Name: "Renamed", Columns: tbl.Columns, Rows: tbl.Rows}, nil)
	if code != http.StatusOK {
		t.Fatalf("replace = %d", code)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.srv.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	stored, err := h.store.Get(context.Background(), tbl.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Name != "Renamed" {
		t.Errorf("stored name = %q", stored.Name)
	}
}

func TestTables_BadInput(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"name":`, http.StatusBadRequest},
		{"unknown field", `{"colour":"blue"}`, http.StatusBadRequest},
		{"duplicate column", `{"columns":[{"id":"a"},{"id":"a"}]}`, http.StatusBadRequest},
		{"blank column id", `{"columns":[{"id":" "}]}`, http.StatusBadRequest},
		{"bad column type", `{"columns":[{"id":"a","type":"money"}]}`, http.StatusBadRequest},
		{"empty body", ``, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := h.do(t, "POST", "/api/tables", "application/json", []byte(tt.body))
			if code != tt.want {
				t.Errorf("code = %d, want %d (%s)", code, tt.want, body)
			}
		})
	}
}

func TestTables_NotFound(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	for _, req := range []struct{ method, path string }{
		{"GET", "/api/tables/missing"},
		{"DELETE", "/api/tables/missing"},
		{"GET", "/api/tables/missing/pipeline"},
	} {
		if code, _ := h.do(t, req.method, req.path, "", nil); code != http.StatusNotFound {
			t.Errorf("%s %s = %d, want 404", req.method, req.path, code)
		}
	}
}

func TestImportCSV(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	var got table.Table
	code, body := h.do(t, "POST", "/api/tables/import?filename=stock.csv", "text/csv", []byte("Product,Qty\nApples,3\nPears,5\n"))
	if code != http.StatusCreated {
		t.Fatalf("import = %d (%s)", code, body)
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != "stock" || len(got.Rows) != 2 || got.Columns[1].Type != table.TypeNumber {
		t.Errorf("imported = %+v", got)
	}

	if code, _ := h.do(t, "POST", "/api/tables/import", "text/csv", nil); code != http.StatusBadRequest {
		t.Errorf("empty import = %d, want 400", code)
	}
}

func TestScan(t *testing.T) {
	t.Parallel()
	ex := stubExtractor{ex: &vision.Extraction{
		Columns: []vision.ExtractedColumn{{ID: "item", Label: "Item", Type: "text"}, {ID: "qty", Label: "Qty", Type: "number"}},
		Rows:    []map[string]any{{"item": "Bolts", "qty": "12"}},
	}}
	h := newHarness(t, func(c *Config) { c.Extractor = ex })

	code, body := h.do(t, "POST", "/api/tables/scan?name=Shelf", "image/png", []byte{0x89, 'P', 'N', 'G'})
	if code != http.StatusCreated {
		t.Fatalf("scan = %d (%s)", code, body)
	}
	var got table.Table
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != "Shelf" || len(got.Rows) != 1 || got.Rows[0]["qty"] != 12.0 {
		t.Errorf("scanned = %+v", got)
	}

	if code, _ := h.do(t, "POST", "/api/tables/scan", "text/plain", []byte("x")); code != http.StatusBadRequest {
		t.Errorf("non-image scan = %d, want 400", code)
	}
}

func TestScan_Failures(t *testing.T) {
	t.Parallel()

	off := newHarness(t, nil)
	if code, _ := off.do(t, "POST", "/api/tables/scan", "image/png", []byte{1}); code != http.StatusNotImplemented {
		t.Errorf("scan without extractor = %d, want 501", code)
	}

	remote := newHarness(t, func(c *Config) {
		c.Extractor = stubExtractor{err: capability.Remote(capability.Vision, "model overloaded", nil)}
	})
	code, body := remote.do(t, "POST", "/api/tables/scan", "image/jpeg", []byte{1})
	if code != http.StatusBadGateway {
		t.Fatalf("remote failure = %d, want 502", code)
	}
	var e apiError
	if err := json.Unmarshal(body, &e); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.Error != "model overloaded" || e.Capability != capability.Vision {
		t.Errorf("error body = %+v", e)
	}

	small := newHarness(t, func(c *Config) {
		c.Extractor = stubExtractor{}
		c.MaxImageBytes = 4
	})
	if code, _ := small.do(t, "POST", "/api/tables/scan", "image/png", []byte("too large")); code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized scan = %d, want 413", code)
	}
}

func TestVoice_Update(t *testing.T) {
	t.Parallel()
	parser := stubParser{res: &table.VoiceUpdateResult{
		Action:     table.ActionUpdate,
		Feedback:   "Set pears to 9",
		RowUpdates: []table.RowUpdate{{RowIndex: 1, Updates: map[string]any{"Quantity": "9"}}},
	}}
	h := newHarness(t, func(c *Config) { c.Interpreter = voicecmd.New(parser) })
	tbl := h.seed(t, nil)

	var resp voiceResponse
	code := h.doJSON(t, "POST", "/api/tables/"+tbl.ID+"/voice", voiceRequest{Utterance: "pears are nine"}, &resp)
	if code != http.StatusOK {
		t.Fatalf("voice = %d", code)
	}
	if resp.Applied != 1 {
		t.Errorf("applied = %d, want 1", resp.Applied)
	}
	if got := resp.Table.Rows[1]["col_1"]; got != 9.0 {
		t.Errorf("quantity = %v (%T), want 9", got, got)
	}
	if got := resp.Table.Rows[1]["col_0"]; got != "Pears" {
		t.Errorf("untouched cell changed: %v", got)
	}
}

func TestVoice_UnknownLeavesTable(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(c *Config) {
		c.Interpreter = voicecmd.New(stubParser{res: &table.VoiceUpdateResult{Action: "dance"}})
	})
	tbl := h.seed(t, nil)

	var resp voiceResponse
	if code := h.doJSON(t, "POST", "/api/tables/"+tbl.ID+"/voice", voiceRequest{Utterance: "do a dance"}, &resp); code != http.StatusOK {
		t.Fatalf("voice = %d", code)
	}
	if resp.Result.Action != table.ActionUnknown || resp.Applied != 0 {
		t.Errorf("resp = %+v", resp)
	}
	if !resp.Table.LastModified.Equal(tbl.LastModified) {
		t.Error("unknown command touched the table")
	}
}

func TestVoice_Failures(t *testing.T) {
	t.Parallel()
	off := newHarness(t, nil)
	tbl := off.seed(t, nil)
	if code := off.doJSON(t, "POST", "/api/tables/"+tbl.ID+"/voice", voiceRequest{Utterance: "x"}, nil); code != http.StatusNotImplemented {
		t.Errorf("voice without interpreter = %d, want 501", code)
	}

	remote := newHarness(t, func(c *Config) {
		c.Interpreter = voicecmd.New(stubParser{err: capability.Remote(capability.Voice, "timeout", nil)})
	})
	tbl = remote.seed(t, nil)
	if code := remote.doJSON(t, "POST", "/api/tables/"+tbl.ID+"/voice", voiceRequest{Utterance: "x"}, nil); code != http.StatusBadGateway {
		t.Errorf("remote failure = %d, want 502", code)
	}
}

func TestPipeline_SuggestAndEdit(t *testing.T) {
	t.Parallel()
	sug := stubSuggester{sug: &synth.Suggestion{
		Description: "Count stock",
		Steps: []synth.SuggestedStep{
			{Instruction: "Apples?", TargetRowIndex: 0, TargetColumnID: "col_1", ExpectedType: "number"},
			{Instruction: "Pears?", TargetRowIndex: 1, TargetColumnID: "col_1", ExpectedType: "number"},
		},
	}}
	h := newHarness(t, func(c *Config) { c.Suggester = sug })
	tbl := h.seed(t, nil)
	base := "/api/tables/" + tbl.ID + "/pipeline"

	edit := func(req editRequest) (int, pipelineResponse) {
		t.Helper()
		var resp pipelineResponse
		code := h.doJSON(t, "POST", base+"/edit", req, &resp)
		return code, resp
	}

	var plan pipelineResponse
	if code := h.doJSON(t, "POST", base+"/suggest", suggestRequest{Language: "en"}, &plan); code != http.StatusOK {
		t.Fatalf("suggest = %d", code)
	}
	if plan.Pipeline.Description != "Count stock" || plan.Pipeline.Len() != 2 || len(plan.Issues) != 0 {
		t.Fatalf("suggested = %+v", plan)
	}

	code, plan := edit(editRequest{Op: opReorder, From: 1, To: 0})
	if code != http.StatusOK {
		t.Fatalf("reorder = %d", code)
	}
	if plan.Pipeline.Steps[0].Instruction != "Pears?" {
		t.Errorf("after reorder = %+v", plan.Pipeline.Steps)
	}

	code, plan = edit(editRequest{Op: opInsert})
	if code != http.StatusOK {
		t.Fatalf("insert = %d", code)
	}
	if n := plan.Pipeline.Len(); n != 3 || plan.Pipeline.Steps[2].TargetColumnID != "col_0" {
		t.Errorf("after insert = %+v", plan.Pipeline.Steps)
	}

	col := "ghost"
	code, plan = edit(editRequest{Op: opEdit, Index: 2, Edit: pipeline.StepEdit{TargetColumnID: &col}})
	if code != http.StatusOK {
		t.Fatalf("edit = %d", code)
	}
	if len(plan.Issues) != 1 || plan.Issues[0].Position != 2 {
		t.Errorf("issues = %+v, want one dangling column", plan.Issues)
	}

	if code, plan = edit(editRequest{Op: opDuplicate, Selection: []int{0, 1}}); code != http.StatusOK || plan.Pipeline.Len() != 5 {
		t.Errorf("duplicate = %d, len %d", code, plan.Pipeline.Len())
	}
	if code, plan = edit(editRequest{Op: opDeleteSelected, Selection: []int{3, 4}}); code != http.StatusOK || plan.Pipeline.Len() != 3 {
		t.Errorf("deleteSelected = %d, len %d", code, plan.Pipeline.Len())
	}
	if code, plan = edit(editRequest{Op: opDescribe, Description: "Evening count"}); code != http.StatusOK || plan.Pipeline.Description != "Evening count" {
		t.Errorf("describe = %d, %q", code, plan.Pipeline.Description)
	}

	if code, _ := edit(editRequest{Op: opDelete, Index: 9}); code != http.StatusUnprocessableEntity {
		t.Errorf("delete out of range = %d, want 422", code)
	}
	if code, _ := edit(editRequest{Op: "explode"}); code != http.StatusBadRequest {
		t.Errorf("unknown op = %d, want 400", code)
	}

	var stored pipelineResponse
	if code := h.doJSON(t, "GET", base, nil, &stored); code != http.StatusOK || stored.Pipeline.Len() != 3 {
		t.Errorf("get pipeline = %d, %+v", code, stored)
	}
}

func TestPipeline_SuggestFailureKeepsPlan(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(c *Config) {
		c.Suggester = stubSuggester{err: capability.Remote(capability.Suggest, "bad json", nil)}
	})
	plan := &pipeline.Pipeline{Description: "Mine", Steps: []pipeline.Step{{ID: "s1", TargetColumnID: "col_0", ExpectedType: pipeline.ExpectText}}}
	tbl := h.seed(t, plan)

	if code := h.doJSON(t, "POST", "/api/tables/"+tbl.ID+"/pipeline/suggest", nil, nil); code != http.StatusBadGateway {
		t.Fatalf("suggest = %d, want 502", code)
	}
	var stored pipelineResponse
	h.doJSON(t, "GET", "/api/tables/"+tbl.ID+"/pipeline", nil, &stored)
	if stored.Pipeline.Description != "Mine" || stored.Pipeline.Len() != 1 {
		t.Errorf("stored plan replaced: %+v", stored.Pipeline)
	}
}

func TestProbes(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		code, body := h.do(t, "GET", path, "", nil)
		if code != http.StatusOK {
			t.Errorf("%s = %d", path, code)
		}
		if path == "/metrics" && !strings.HasPrefix(string(body), "# metrics") {
			t.Errorf("/metrics body = %q", body)
		}
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want int
	}{
		{tablestore.ErrNotFound, http.StatusNotFound},
		{ErrSessionActive, http.StatusConflict},
		{pipeline.ErrOutOfRange, http.StatusUnprocessableEntity},
		{table.ErrOutOfRange, http.StatusUnprocessableEntity},
		{capability.Remote(capability.Suggest, "x", nil), http.StatusBadGateway},
		{errCapabilityOff, http.StatusNotImplemented},
		{badRequest("nope"), http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
