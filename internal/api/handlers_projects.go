package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"evalgo.org/damp/internal/projects"
)

func (s *Server) listProjects(c echo.Context) error {
	list, err := s.app.Projects.List()
	if err != nil {
		return errorFor(err, "Project", "")
	}
	return c.JSON(http.StatusOK, ProjectsResponse{Count: len(list), Projects: list})
}

func (s *Server) getProject(c echo.Context) error {
	id := c.Param("id")
	p, err := s.app.Projects.Get(id)
	if err != nil {
		return errorFor(err, "Project", id)
	}
	return c.JSON(http.StatusOK, p)
}

// createProject runs the create pipeline. Progress is broadcast on the
// event websocket tagged "create-project:<name>".
func (s *Server) createProject(c echo.Context) error {
	var in projects.CreateInput
	if err := c.Bind(&in); err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}
	label := in.Name
	if label == "" {
		label = in.Path
	}
	sink := s.hub.ProgressSink("create-project:" + label)
	return respond(c, http.StatusCreated, s.app.Projects.Create(c.Request().Context(), in, sink))
}

func (s *Server) updateProject(c echo.Context) error {
	var in projects.UpdateInput
	if err := c.Bind(&in); err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}
	in.ID = c.Param("id")
	return respond(c, http.StatusOK, s.app.Projects.Update(c.Request().Context(), in))
}

func (s *Server) deleteProject(c echo.Context) error {
	res := s.app.Projects.Delete(c.Request().Context(), c.Param("id"), boolQuery(c, "remove_volume"), boolQuery(c, "remove_folder"))
	return respond(c, http.StatusOK, res)
}

func (s *Server) startProject(c echo.Context) error {
	return respond(c, http.StatusOK, s.app.Projects.Start(c.Request().Context(), c.Param("id")))
}

func (s *Server) stopProject(c echo.Context) error {
	return respond(c, http.StatusOK, s.app.Projects.Stop(c.Request().Context(), c.Param("id")))
}

// syncProject copies the project volume back into its folder. Progress is
// broadcast tagged "sync-project:<id>".
func (s *Server) syncProject(c echo.Context) error {
	id := c.Param("id")
	sink := s.hub.ProgressSink("sync-project:" + id)
	return respond(c, http.StatusOK, s.app.Projects.SyncFromVolume(c.Request().Context(), id, sink))
}
