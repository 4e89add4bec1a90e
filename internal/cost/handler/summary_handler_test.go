package handler

import (
	"net/http"
	"testing"

	"github.com/bitfantasy/nimo-cost/internal/cost/entity"
	"github.com/bitfantasy/nimo-cost/internal/cost/repository"
	"github.com/bitfantasy/nimo-cost/internal/cost/service"
	"github.com/bitfantasy/nimo-cost/internal/cost/testutil"
	"go.uber.org/zap"
)

func setupSummaryTest(t *testing.T) *testutil.TestEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	router := testutil.SetupRouter()

	repos := repository.NewRepositories(db)
	services := service.NewServices(db, repos, nil, zap.NewNop())
	handlers := NewHandlers(services, repos)

	api := testutil.AuthGroup(router, "/api/v1/cost")
	api.GET("/projects/:project_id/summary", handlers.Summary.Get)
	api.POST("/projects/:project_id/summary/refresh", handlers.Summary.Refresh)
	api.GET("/projects/:project_id/projection", handlers.Summary.Projection)

	return &testutil.TestEnv{DB: db, Router: router, T: t}
}

func TestProjectionTotalsComeFromSummaryRow(t *testing.T) {
	env := setupSummaryTest(t)
	token := testutil.DefaultTestToken()

	s := testutil.SeedStructure(t, env.DB, "proj-001", "Block A", 4200)
	testutil.SeedElement(t, env.DB, "proj-001", &s.ID, "Foundation", 2000)

	w := testutil.DoRequest(env.Router, "POST", "/api/v1/cost/projects/proj-001/summary/refresh", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Refresh failed: %d %s", w.Code, w.Body.String())
	}

	// 手工改写汇总行：视图合计必须跟缓存行走，而不是从树上重新求和
	if err := env.DB.Model(&entity.ProjectSummary{}).
		Where("project_id = ?", "proj-001").
		Update("estimate_total", 9999.0).Error; err != nil {
		t.Fatalf("Failed to tamper summary row: %v", err)
	}

	w = testutil.DoRequest(env.Router, "GET", "/api/v1/cost/projects/proj-001/projection", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Projection failed: %d %s", w.Code, w.Body.String())
	}
	resp := testutil.ParseResponse(w)
	data := resp["data"].(map[string]interface{})

	totals, ok := data["totals"].(map[string]interface{})
	if !ok {
		t.Fatalf("Missing totals in projection response: %v", data)
	}
	if totals["estimate_total"].(float64) != 9999 {
		t.Errorf("estimate_total = %v, want 9999 (from summary row)", totals["estimate_total"])
	}

	rows := data["rows"].([]interface{})
	if len(rows) != 1 {
		t.Fatalf("Expected 1 structure row, got %d", len(rows))
	}
	row := rows[0].(map[string]interface{})
	if row["estimate_amount"].(float64) != 4200 {
		t.Errorf("Structure row estimate = %v, want 4200", row["estimate_amount"])
	}
}
