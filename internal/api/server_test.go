package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"

	"github.com/talgya/hexworld/internal/config"
	"github.com/talgya/hexworld/internal/persistence"
	"github.com/talgya/hexworld/internal/rules"
	"github.com/talgya/hexworld/internal/world"
)

const adminKey = "test-key"

const liftDoc = `
name: lift
description: raise anything
rules:
  - name: all
    priority: 1
    conditions: []
    actions:
      - type: SetElevation
        params: {elevation: 7}
`

// flatWorld returns a world whose chunk (0,0) is a 4x4 plain at elevation 0.
func flatWorld(t *testing.T) *world.WorldMap {
	t.Helper()
	grid := world.NewGrid()
	for q := 0; q < 4; q++ {
		for r := 0; r < 4; r++ {
			grid.AddCell(world.NewPosition2D(q, r), world.TerrainPlain, 0)
		}
	}
	chunk := &world.MapChunk{
		Grid:       grid,
		Structures: map[world.Position]world.StructureType{},
		Biome:      world.BiomePlains,
	}
	w, err := world.RestoreWorldMap(4, 1, nil, []*world.MapChunk{chunk})
	if err != nil {
		t.Fatal(err)
	}
	return w
}

type ServerTestSuite struct {
	suite.Suite
	srv *Server
	ts  *httptest.Server
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}

func (s *ServerTestSuite) SetupTest() {
	s.srv = &Server{
		World:      flatWorld(s.T()),
		Areas:      world.NewAreaGeneratorWithSeed(1),
		Rules:      rules.NewEngine(),
		AdminKey:   adminKey,
		PathBudget: 1000,
	}
	s.ts = httptest.NewServer(s.srv.Handler())
}

func (s *ServerTestSuite) TearDownTest() {
	s.ts.Close()
}

func (s *ServerTestSuite) do(method, path, body, token string) *http.Response {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.ts.URL+path, r)
	s.Require().NoError(err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	s.T().Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *ServerTestSuite) decode(resp *http.Response, v any) {
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(v))
}

func (s *ServerTestSuite) TestStatus() {
	resp := s.do(http.MethodGet, "/api/v1/status", "", "")
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var status struct {
		Seed      uint64 `json:"seed"`
		ChunkSize int    `json:"chunk_size"`
		Chunks    int    `json:"chunks"`
	}
	s.decode(resp, &status)
	s.Equal(uint64(1), status.Seed)
	s.Equal(4, status.ChunkSize)
	s.Equal(1, status.Chunks)
}

func (s *ServerTestSuite) TestHex() {
	resp := s.do(http.MethodGet, "/api/v1/hex/2/3", "", "")
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var result struct {
		Cell     world.Cell `json:"cell"`
		Passable bool       `json:"passable"`
	}
	s.decode(resp, &result)
	s.Equal(world.TerrainPlain, result.Cell.Terrain)
	s.Equal(2, result.Cell.Q)
	s.Equal(3, result.Cell.R)
	s.True(result.Passable)

	s.Equal(http.StatusBadRequest, s.do(http.MethodGet, "/api/v1/hex/a/3", "", "").StatusCode)
}

func (s *ServerTestSuite) TestPath() {
	resp := s.do(http.MethodGet, "/api/v1/path?from=0,0&to=3,3", "", "")
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var result struct {
		Found bool             `json:"found"`
		Path  []world.Position `json:"path"`
		Cost  int              `json:"cost"`
	}
	s.decode(resp, &result)
	s.Require().True(result.Found)
	s.Require().Len(result.Path, 7)
	s.Equal(world.NewPosition(0, 0, 0), result.Path[0])
	s.Equal(world.NewPosition(3, 3, 0), result.Path[6])
	s.Equal(6, result.Cost)
}

func (s *ServerTestSuite) TestPathRejectsBadRequests() {
	testCases := []struct {
		name  string
		query string
	}{
		{"missing from", "to=1,1"},
		{"malformed to", "from=0,0&to=1"},
		{"different chunks", "from=0,0&to=5,5"},
	}
	for _, tc := range testCases {
		s.Run(tc.name, func() {
			resp := s.do(http.MethodGet, "/api/v1/path?"+tc.query, "", "")
			s.Equal(http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func (s *ServerTestSuite) TestPathRateLimited() {
	srv := &Server{
		World:     flatWorld(s.T()),
		RateLimit: config.RateLimit{Requests: 1, Window: time.Hour},
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	first, err := http.Get(ts.URL + "/api/v1/path?from=0,0&to=1,1")
	s.Require().NoError(err)
	first.Body.Close()
	s.Equal(http.StatusOK, first.StatusCode)

	second, err := http.Get(ts.URL + "/api/v1/path?from=0,0&to=1,1")
	s.Require().NoError(err)
	second.Body.Close()
	s.Equal(http.StatusTooManyRequests, second.StatusCode)
	s.NotEmpty(second.Header.Get("Retry-After"))
}

func (s *ServerTestSuite) TestChunkGeneratesOnDemand() {
	resp := s.do(http.MethodGet, "/api/v1/chunk/1/0", "", "")
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var snap world.ChunkSnapshot
	s.decode(resp, &snap)
	s.Equal(world.ChunkPosition{X: 1, Y: 0}, snap.Position)
	s.Len(snap.Cells, 16)
	s.Equal(2, s.srv.World.ChunkCount())

	s.Equal(http.StatusBadRequest, s.do(http.MethodGet, "/api/v1/chunk/x/0", "", "").StatusCode)
}

func (s *ServerTestSuite) TestArea() {
	resp := s.do(http.MethodGet, "/api/v1/area/town", "", "")
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var snap world.ChunkSnapshot
	s.decode(resp, &snap)
	s.Len(snap.Cells, 400)

	s.Equal(http.StatusNotFound, s.do(http.MethodGet, "/api/v1/area/castle", "", "").StatusCode)
}

func (s *ServerTestSuite) TestAdminAuth() {
	resp := s.do(http.MethodPost, "/api/v1/templates", liftDoc, "")
	s.Equal(http.StatusUnauthorized, resp.StatusCode)

	resp = s.do(http.MethodPost, "/api/v1/templates", liftDoc, "wrong")
	s.Equal(http.StatusUnauthorized, resp.StatusCode)

	srv := &Server{World: flatWorld(s.T())}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	disabled, err := http.Post(ts.URL+"/api/v1/save", "application/json", nil)
	s.Require().NoError(err)
	disabled.Body.Close()
	s.Equal(http.StatusForbidden, disabled.StatusCode)
}

func (s *ServerTestSuite) TestTemplateLifecycle() {
	resp := s.do(http.MethodPost, "/api/v1/templates", liftDoc, adminKey)
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	s.Equal("application/json", resp.Header.Get("Content-Type"))

	var list struct {
		Rules []string `json:"rule_templates"`
		Areas []string `json:"area_templates"`
	}
	s.decode(s.do(http.MethodGet, "/api/v1/templates", "", ""), &list)
	s.Equal([]string{"lift"}, list.Rules)
	s.Equal([]string{"forest", "town"}, list.Areas)

	doc := s.do(http.MethodGet, "/api/v1/templates/lift", "", "")
	s.Require().Equal(http.StatusOK, doc.StatusCode)
	body, err := io.ReadAll(doc.Body)
	s.Require().NoError(err)
	parsed, err := rules.Parse(body)
	s.Require().NoError(err)
	s.Equal("raise anything", parsed.Description)

	apply := s.do(http.MethodPost, "/api/v1/apply", `{"template":"lift","q":1,"r":2}`, adminKey)
	s.Require().Equal(http.StatusOK, apply.StatusCode)
	var applied struct {
		Applied bool       `json:"applied"`
		Cell    world.Cell `json:"cell"`
	}
	s.decode(apply, &applied)
	s.True(applied.Applied)
	s.Equal(7, applied.Cell.Elevation)

	s.Equal(http.StatusOK, s.do(http.MethodDelete, "/api/v1/templates/lift", "", adminKey).StatusCode)
	s.Equal(http.StatusNotFound, s.do(http.MethodDelete, "/api/v1/templates/lift", "", adminKey).StatusCode)
	s.Equal(http.StatusNotFound, s.do(http.MethodGet, "/api/v1/templates/lift", "", "").StatusCode)
}

func (s *ServerTestSuite) TestApplyUnknownTemplate() {
	resp := s.do(http.MethodPost, "/api/v1/apply", `{"template":"nope","q":0,"r":0}`, adminKey)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var applied struct {
		Applied bool `json:"applied"`
	}
	s.decode(resp, &applied)
	s.False(applied.Applied)

	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/api/v1/apply", `{"q":0}`, adminKey).StatusCode)
	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/api/v1/apply", `not json`, adminKey).StatusCode)
}

func (s *ServerTestSuite) TestInvalidTemplateRejected() {
	resp := s.do(http.MethodPost, "/api/v1/templates", "name: broken\nrules: 3\n", adminKey)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	s.Empty(s.srv.Rules.Templates())
}

func (s *ServerTestSuite) TestSaveRequiresDatabase() {
	s.Equal(http.StatusServiceUnavailable, s.do(http.MethodPost, "/api/v1/save", "", adminKey).StatusCode)
}

func (s *ServerTestSuite) TestSaveAndTemplatePersistence() {
	db, err := persistence.Open(filepath.Join(s.T().TempDir(), "api.db"))
	s.Require().NoError(err)
	defer db.Close()
	s.srv.DB = db

	s.Require().Equal(http.StatusCreated, s.do(http.MethodPost, "/api/v1/templates", liftDoc, adminKey).StatusCode)
	s.Require().Equal(http.StatusOK, s.do(http.MethodPost, "/api/v1/save", "", adminKey).StatusCode)

	ok, err := db.HasWorldState()
	s.Require().NoError(err)
	s.True(ok)

	docs, err := db.TemplateDocuments()
	s.Require().NoError(err)
	s.Require().Len(docs, 1)
	s.Equal("lift", docs[0].Name)
}

func (s *ServerTestSuite) TestCORSPreflight() {
	req, err := http.NewRequest(http.MethodOptions, s.ts.URL+"/api/v1/templates", nil)
	s.Require().NoError(err)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	resp.Body.Close()
	s.Equal(http.StatusNoContent, resp.StatusCode)
	s.Equal("http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))
}

func (s *ServerTestSuite) TestSchema() {
	resp := s.do(http.MethodGet, "/api/v1/schema", "", "")
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var schema map[string]any
	s.decode(resp, &schema)
	s.Contains(schema, "$schema")
}

func (s *ServerTestSuite) streamURL() string {
	return "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/api/v1/stream"
}

func (s *ServerTestSuite) TestStreamReceivesEvents() {
	conn, _, err := websocket.DefaultDialer.Dial(s.streamURL(), nil)
	s.Require().NoError(err)
	defer conn.Close()

	s.Require().Eventually(func() bool { return s.srv.events.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.Require().Equal(http.StatusOK, s.do(http.MethodGet, "/api/v1/chunk/0/1", "", "").StatusCode)

	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	var msg streamMessage
	s.Require().NoError(conn.ReadJSON(&msg))
	s.Require().NotNil(msg.Event)
	s.Equal(EventChunkGenerated, msg.Event.Kind)
	s.Require().NotNil(msg.Event.Chunk)
	s.Equal(world.ChunkPosition{X: 0, Y: 1}, *msg.Event.Chunk)
	s.False(msg.Event.Time.IsZero())
}

func (s *ServerTestSuite) TestStreamAnswersChunkRequests() {
	conn, _, err := websocket.DefaultDialer.Dial(s.streamURL(), nil)
	s.Require().NoError(err)
	defer conn.Close()
	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))

	s.Require().NoError(conn.WriteJSON(map[string]any{"chunk": map[string]int{"x": 0, "y": 0}}))
	var msg streamMessage
	s.Require().NoError(conn.ReadJSON(&msg))
	s.Require().NotNil(msg.Chunk)
	s.Equal(world.ChunkPosition{}, msg.Chunk.Position)
	s.Len(msg.Chunk.Cells, 16)

	s.Require().NoError(conn.WriteMessage(websocket.TextMessage, []byte("{}")))
	msg = streamMessage{}
	s.Require().NoError(conn.ReadJSON(&msg))
	s.NotEmpty(msg.Error)
	s.Nil(msg.Chunk)
}

func (s *ServerTestSuite) TestStreamChunkRequestsShareRateLimit() {
	srv := &Server{
		World:     flatWorld(s.T()),
		RateLimit: config.RateLimit{Requests: 2, Window: time.Hour},
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	first, err := http.Get(ts.URL + "/api/v1/chunk/0/0")
	s.Require().NoError(err)
	first.Body.Close()
	s.Require().Equal(http.StatusOK, first.StatusCode)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().NoError(err)
	defer conn.Close()
	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))

	request := map[string]any{"chunk": map[string]int{"x": 0, "y": 0}}
	s.Require().NoError(conn.WriteJSON(request))
	var msg streamMessage
	s.Require().NoError(conn.ReadJSON(&msg))
	s.Require().NotNil(msg.Chunk)

	s.Require().NoError(conn.WriteJSON(request))
	msg = streamMessage{}
	s.Require().NoError(conn.ReadJSON(&msg))
	s.Nil(msg.Chunk)
	s.Equal("rate limited", msg.Error)

	last, err := http.Get(ts.URL + "/api/v1/chunk/0/0")
	s.Require().NoError(err)
	last.Body.Close()
	s.Equal(http.StatusTooManyRequests, last.StatusCode)
}

func (s *ServerTestSuite) TestStreamRejectsForeignOrigin() {
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(s.streamURL(), header)
	s.Require().Error(err)
	s.Require().NotNil(resp)
	s.Equal(http.StatusForbidden, resp.StatusCode)
}

func TestHubDropsForSlowSubscribers(t *testing.T) {
	h := newHub()
	_, ch := h.Subscribe()
	for i := 0; i < 100; i++ {
		h.Publish(Event{Kind: EventWorldSaved})
	}
	if got := len(ch); got != 64 {
		t.Fatalf("buffered %d events, want 64", got)
	}
	h.Close()
	if h.Len() != 0 {
		t.Fatal("subscribers remain after close")
	}
}
