package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"evalgo.org/damp/models"
)

// listResources returns classified managed resources, optionally filtered
// by type and orphan status, one page at a time.
func (s *Server) listResources(c echo.Context) error {
	all, err := s.app.Resources.GetAllResources(c.Request().Context())
	if err != nil {
		return errorFor(err, "Resource", "")
	}

	kind := models.ResourceKind(c.QueryParam("type"))
	onlyOrphans := boolQuery(c, "orphans")

	filtered := make([]*models.DockerResource, 0, len(all))
	orphans := 0
	for _, r := range all {
		if kind != "" && r.Type != kind {
			continue
		}
		if onlyOrphans && !r.IsOrphan {
			continue
		}
		if r.IsOrphan {
			orphans++
		}
		filtered = append(filtered, r)
	}

	limit, offset := parsePagination(c)
	page := paginate(filtered, limit, offset)
	return c.JSON(http.StatusOK, ResourcesResponse{
		Count:     len(page),
		Total:     len(filtered),
		Orphans:   orphans,
		Resources: page,
	})
}

func (s *Server) deleteResource(c echo.Context) error {
	kind := models.ResourceKind(c.Param("type"))
	id := c.Param("id")
	if kind != models.ResourceContainer && kind != models.ResourceVolume {
		return BadRequestError("Invalid resource type", "Type must be one of: container, volume. Got: "+string(kind))
	}
	if err := s.app.Resources.DeleteResource(c.Request().Context(), kind, id); err != nil {
		return errorFor(err, "Resource", id)
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: string(kind) + " removed", ID: id})
}

// pruneResources removes the requested orphans, or every orphan when the
// body is empty. Individual failures are reported, never aborting the batch.
func (s *Server) pruneResources(c echo.Context) error {
	var req PruneRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return BadRequestError("Invalid request body", err.Error())
		}
	}
	res, err := s.app.Resources.PruneOrphans(c.Request().Context(), req.ContainerIDs, req.VolumeNames)
	if err != nil {
		return errorFor(err, "Resource", "")
	}
	return c.JSON(http.StatusOK, res)
}
