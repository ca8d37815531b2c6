package prediction

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linesmerrill/casecraft-api/config"
	"github.com/linesmerrill/casecraft-api/models"
)

// chunkReader returns at most n bytes per Read
type chunkReader struct {
	data []byte
	n    int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	n := c.n
	if n > len(c.data) {
		n = len(c.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, c.data[:n])
	c.data = c.data[n:]
	return n, nil
}

func readAll(t *testing.T, d *Decoder) ([]models.StreamEvent, error) {
	t.Helper()
	var events []models.StreamEvent
	for {
		ev, err := d.Next()
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

func TestDecoder_ReassemblesSplitFrames(t *testing.T) {
	stream := `{"type":"progress","message":"reading charges"}` + "\n" +
		`{"type":"complete","result":{"probability":0.72,"summary":"likely acquittal"}}` + "\n" +
		`{"type":"done"}`
	d := NewDecoder(&chunkReader{data: []byte(stream), n: 7})

	events, err := readAll(t, d)

	assert.Equal(t, io.EOF, err)
	require.Len(t, events, 3)
	assert.Equal(t, "progress", events[0].Type)
	assert.Equal(t, models.EventTypeComplete, events[1].Type)
	assert.Equal(t, 0.72, events[1].Result["probability"])
	assert.JSONEq(t, `{"type":"complete","result":{"probability":0.72,"summary":"likely acquittal"}}`, string(events[1].Raw))
	assert.Equal(t, "done", events[2].Type)
}

func TestDecoder_AcceptsEventStreamFraming(t *testing.T) {
	stream := ": keepalive\r\n" +
		"event: progress\r\n" +
		`data: {"type":"progress","message":"1/3"}` + "\r\n\r\n" +
		"id: 7\n" +
		`data: {"type":"error","message":"model overloaded"}` + "\n\n"
	d := NewDecoder(strings.NewReader(stream))

	events, err := readAll(t, d)

	assert.Equal(t, io.EOF, err)
	require.Len(t, events, 2)
	assert.Equal(t, "1/3", events[0].Message)
	assert.Equal(t, models.EventTypeError, events[1].Type)
	assert.Equal(t, "model overloaded", events[1].Message)
}

func TestDecoder_MalformedFrame(t *testing.T) {
	d := NewDecoder(strings.NewReader(`{"type":"progress"}` + "\n" + `{"type": "complete", "res` + "\n"))

	ev, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "progress", ev.Type)

	_, err = d.Next()
	assert.ErrorIs(t, err, ErrStreamDecode)
}

func TestDecoder_PlainTextLineIsMalformed(t *testing.T) {
	d := NewDecoder(strings.NewReader("retry: 3000\n" + "Internal error: boom\n" + `{"type":"complete"}` + "\n"))

	_, err := d.Next()

	assert.ErrorIs(t, err, ErrStreamDecode)
}

func TestDecoder_EmptyStream(t *testing.T) {
	_, err := NewDecoder(strings.NewReader("\n\n")).Next()
	assert.Equal(t, io.EOF, err)
}

func TestBuildRequest_SendsEveryKey(t *testing.T) {
	b, err := json.Marshal(BuildRequest(models.Case{ID: "c1"}))
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &body))
	for _, key := range []string{
		"country", "state_province", "city", "court", "case_type", "role", "case_number",
		"case_title", "case_description", "case_summary", "charges", "evidence_summary",
		"legal_precedent_summary", "key_witnesses_summary", "police_report_summary", "weaknesses_summary",
	} {
		v, ok := body[key]
		assert.True(t, ok, key)
		assert.Nil(t, v, key)
	}
}

func TestBuildRequest_ProjectsCase(t *testing.T) {
	caseType := "criminal"
	req := BuildRequest(models.Case{
		Jurisdiction: &models.Jurisdiction{Country: "US", State: "CA", City: "", Court: "Superior"},
		CaseType:     &caseType,
		Charges:      []models.Charge{{ID: "1-0", ChargeDescription: "theft"}},
		CaseDetails: map[string]interface{}{
			models.SectionCaseInformation: map[string]interface{}{"caseName": "Doe v. Roe", "caseDescription": "desc"},
			models.SectionEvidence:        map[string]interface{}{"summary": "camera footage"},
		},
	})

	assert.Equal(t, "US", *req.Country)
	assert.Equal(t, "CA", *req.StateProvince)
	assert.Nil(t, req.City)
	assert.Equal(t, "Superior", *req.Court)
	assert.Equal(t, "criminal", *req.CaseType)
	assert.Nil(t, req.Role)
	assert.Equal(t, "Doe v. Roe", *req.CaseTitle)
	assert.Equal(t, "desc", *req.CaseDescription)
	assert.Equal(t, "camera footage", *req.EvidenceSummary)
	assert.Nil(t, req.PoliceReportSummary)
	assert.Len(t, req.Charges, 1)
}

func newTestClient(url string) *Client {
	return NewClient(&config.Config{
		PredictionURL:     url + "/predict",
		GamePlanURL:       url + "/game-plan",
		PredictionAPIKey:  "secret",
		PredictionTimeout: 5 * time.Second,
	})
}

func TestClient_OpenStreams(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]interface{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = io.WriteString(w, `{"type":"progress"}`+"\n"+`{"type":"complete","game_plan":{"steps":["a"]}}`+"\n")
	}))
	defer ts.Close()

	s, err := newTestClient(ts.URL).Open(context.Background(), KindGamePlan, models.PredictionRequest{})
	require.NoError(t, err)
	defer s.Close()

	first, err := s.Next()
	require.NoError(t, err)
	second, err := s.Next()
	require.NoError(t, err)
	_, err = s.Next()

	assert.Equal(t, io.EOF, err)
	assert.Equal(t, "/game-plan", gotPath)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Contains(t, gotBody, "weaknesses_summary")
	assert.Equal(t, "progress", first.Type)
	assert.Equal(t, []interface{}{"a"}, second.Payload()["steps"])
}

func TestClient_OpenPlainJSONReply(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = io.WriteString(w, `{"probability": 0.4, "factors": ["witness"]}`)
	}))
	defer ts.Close()

	s, err := newTestClient(ts.URL).Open(context.Background(), KindAnalysis, models.PredictionRequest{})
	require.NoError(t, err)
	defer s.Close()

	ev, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, models.EventTypeComplete, ev.Type)
	assert.Equal(t, 0.4, ev.Result["probability"])
	assert.JSONEq(t, `{"type":"complete","result":{"probability":0.4,"factors":["witness"]}}`, string(ev.Raw))

	_, err = s.Next()
	assert.Equal(t, io.EOF, err)
}

func TestClient_OpenHandshakeFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, "overloaded")
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL).Open(context.Background(), KindAnalysis, models.PredictionRequest{})

	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusServiceUnavailable, upstream.StatusCode)
	assert.Equal(t, "overloaded", upstream.Body)
}

func TestClient_OpenNotConfigured(t *testing.T) {
	c := NewClient(&config.Config{})

	_, err := c.Open(context.Background(), KindAnalysis, models.PredictionRequest{})

	assert.ErrorIs(t, err, ErrNotConfigured)
}
