package menu_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framehaus/stagehand/internal/config"
	"github.com/framehaus/stagehand/internal/menu"
	"github.com/framehaus/stagehand/internal/pathcache"
	"github.com/framehaus/stagehand/internal/tracker"
	"github.com/framehaus/stagehand/internal/tracker/trackertest"
	"github.com/framehaus/stagehand/internal/workarea"
)

type fixture struct {
	srv  *httptest.Server
	menu *menu.Server
	ts   *trackertest.Server
	task *tracker.Entity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ts := trackertest.New()
	t.Cleanup(ts.Close)

	project := ts.AddEntity("Project", "arizona", nil)
	shot := ts.AddEntity("Shot", "mi001", map[string]any{"project": project.Ref()})
	step := ts.AddEntity("Step", "comp", nil)
	task := ts.AddEntity("Task", "comp anim", map[string]any{
		"project": project.Ref(), "entity": shot.Ref(), "step": step.Ref(),
	})

	cfg := &config.Config{
		Roots: map[string]config.Root{
			"primary": {Name: "primary", Paths: map[config.Platform]string{
				config.CurrentPlatform(): "/mnt/projects",
			}},
		},
		Environments: map[string]*config.Environment{
			"shot": {
				Name: "shot",
				Apps: map[string]config.AppSetting{
					"nuke": {Menu: []config.MenuItem{
						{Name: "Publish...", Action: "publish"},
						{Name: "Create Folders", Action: "create_folders"},
					}},
				},
			},
		},
	}

	cache, err := pathcache.Open(filepath.Join(t.TempDir(), "paths.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	m := menu.NewServer(cfg, workarea.NewResolver(cfg, cache, ts.Client()))
	srv := httptest.NewServer(m.Routes())
	t.Cleanup(srv.Close)

	return &fixture{srv: srv, menu: m, ts: ts, task: task}
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/health", nil))
}

func TestMenuForTask(t *testing.T) {
	f := newFixture(t)

	var resp struct {
		Env   string            `json:"env"`
		Items []config.MenuItem `json:"items"`
		Area  workarea.WorkArea `json:"area"`
	}
	status := getJSON(t, fmt.Sprintf("%s/api/v1/menu?task_id=%d&app=nuke", f.srv.URL, f.task.ID), &resp)

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "shot", resp.Env)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "publish", resp.Items[0].Action)
	assert.Equal(t, "mi001", resp.Area.Names["Shot"])
}

func TestMenuRequiresContext(t *testing.T) {
	f := newFixture(t)

	var resp map[string]string
	status := getJSON(t, f.srv.URL+"/api/v1/menu", &resp)

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, resp["error"], "task_id or path")
}

func TestActions(t *testing.T) {
	f := newFixture(t)

	f.menu.RegisterAction("create_folders", func(ctx context.Context, req menu.ActionRequest) (any, error) {
		return map[string]any{"created": []string{"/mnt/projects/arizona"}}, nil
	})

	body, _ := json.Marshal(menu.ActionRequest{
		Area: &workarea.WorkArea{Names: map[string]string{"Shot": "mi001"}},
	})

	t.Run("registered action runs", func(t *testing.T) {
		resp, err := http.Post(f.srv.URL+"/api/v1/actions/create_folders", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out struct {
			Action string         `json:"action"`
			Report map[string]any `json:"report"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		assert.Equal(t, "create_folders", out.Action)
		assert.NotEmpty(t, out.Report["created"])
	})

	t.Run("unknown action is 404 with a json error", func(t *testing.T) {
		resp, err := http.Post(f.srv.URL+"/api/v1/actions/nope", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		var out map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		assert.Contains(t, out["error"], "unknown action")
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		resp, err := http.Post(f.srv.URL+"/api/v1/actions/create_folders", "application/json", bytes.NewReader([]byte("{not json")))
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}
