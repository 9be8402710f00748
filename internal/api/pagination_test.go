package api

import (
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"evalgo.org/damp/models"
)

func TestParsePagination(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{query: "", wantLimit: 100, wantOffset: 0},
		{query: "limit=20&offset=40", wantLimit: 20, wantOffset: 40},
		{query: "limit=2500", wantLimit: 1000},
		{query: "limit=0", wantLimit: 100},
		{query: "limit=-3&offset=-1", wantLimit: 100},
		{query: "limit=ten&offset=x", wantLimit: 100},
	}

	e := echo.New()
	for _, tt := range tests {
		t.Run("?"+tt.query, func(t *testing.T) {
			c := e.NewContext(httptest.NewRequest("GET", "/api/v1/resources?"+tt.query, nil), httptest.NewRecorder())
			limit, offset := parsePagination(c)
			assert.Equal(t, tt.wantLimit, limit)
			assert.Equal(t, tt.wantOffset, offset)
		})
	}
}

func TestPaginate(t *testing.T) {
	var volumes []*models.DockerResource
	for i := 0; i < 7; i++ {
		volumes = append(volumes, &models.DockerResource{
			ID:   fmt.Sprintf("damp_project_%d", i),
			Type: models.ResourceVolume,
		})
	}

	page := paginate(volumes, 3, 0)
	assert.Len(t, page, 3)
	assert.Equal(t, "damp_project_0", page[0].ID)

	page = paginate(volumes, 3, 6)
	assert.Len(t, page, 1)
	assert.Equal(t, "damp_project_6", page[0].ID)

	assert.Empty(t, paginate(volumes, 3, 7))
	assert.NotNil(t, paginate(volumes, 3, 50), "an empty page encodes as []")
	assert.Len(t, paginate(volumes, 100, 2), 5)
}
