package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/RecoveryAshes/GroupHarvest/internal/models"
)

func TestRecorder_RunFinished(t *testing.T) {
	r := NewRecorder()

	r.RunStarted()
	r.RunStarted()
	if got := testutil.ToFloat64(r.activeRuns); got != 2 {
		t.Errorf("active_runs = %v", got)
	}

	r.RunFinished(models.EngineRod, models.RunStats{
		Yielded:    7,
		Duplicates: 2,
		Stalls:     3,
		StopReason: models.StopStalled,
		Duration:   12.5,
	}, nil)
	r.RunFinished(models.EnginePool, models.RunStats{Yielded: 1}, errors.New("boom"))

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"rod产出", testutil.ToFloat64(r.postsTotal.WithLabelValues("rod")), 7},
		{"pool产出", testutil.ToFloat64(r.postsTotal.WithLabelValues("pool")), 1},
		{"重复丢弃", testutil.ToFloat64(r.droppedTotal.WithLabelValues("rod", "duplicate")), 2},
		{"停滞", testutil.ToFloat64(r.stallsTotal.WithLabelValues("rod")), 3},
		{"按原因计数", testutil.ToFloat64(r.runsTotal.WithLabelValues("rod", "stalled")), 1},
		{"失败计数", testutil.ToFloat64(r.runsTotal.WithLabelValues("pool", "error")), 1},
		{"活动运行", testutil.ToFloat64(r.activeRuns), 0},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, 期望 %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder()
	r.PostsStored(3)
	r.PostsStored(0)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "groupharvest_posts_stored_total 3") {
		t.Errorf("指标输出缺少入库计数:\n%s", body)
	}
}
