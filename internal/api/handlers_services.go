package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"evalgo.org/damp/internal/services"
	"evalgo.org/damp/models"
)

// respond writes a manager result. Failed operations are 422 with the
// result envelope so clients always read success and error the same way.
func respond[T any](c echo.Context, okStatus int, res models.Result[T]) error {
	if !res.Success {
		return c.JSON(http.StatusUnprocessableEntity, res)
	}
	return c.JSON(okStatus, res)
}

func boolQuery(c echo.Context, name string) bool {
	v, _ := strconv.ParseBool(c.QueryParam(name))
	return v
}

func (s *Server) listServices(c echo.Context) error {
	states, err := s.app.Services.GetAllStates(c.Request().Context())
	if err != nil {
		return errorFor(err, "Service", "")
	}
	return c.JSON(http.StatusOK, ServicesResponse{Count: len(states), Services: states})
}

func (s *Server) getService(c echo.Context) error {
	id := c.Param("id")
	st, err := s.app.Services.GetState(c.Request().Context(), id)
	if err != nil {
		return errorFor(err, "Service", id)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) installService(c echo.Context) error {
	id := c.Param("id")
	var opts services.InstallOptions
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&opts); err != nil {
			return BadRequestError("Invalid request body", err.Error())
		}
	}
	opts.Progress = s.hub.ProgressSink("install:" + id)
	return respond(c, http.StatusCreated, s.app.Services.Install(c.Request().Context(), id, opts))
}

func (s *Server) uninstallService(c echo.Context) error {
	id := c.Param("id")
	return respond(c, http.StatusOK, s.app.Services.Uninstall(c.Request().Context(), id, boolQuery(c, "remove_volumes")))
}

func (s *Server) startService(c echo.Context) error {
	return respond(c, http.StatusOK, s.app.Services.Start(c.Request().Context(), c.Param("id")))
}

func (s *Server) stopService(c echo.Context) error {
	return respond(c, http.StatusOK, s.app.Services.Stop(c.Request().Context(), c.Param("id")))
}

func (s *Server) restartService(c echo.Context) error {
	return respond(c, http.StatusOK, s.app.Services.Restart(c.Request().Context(), c.Param("id")))
}

func (s *Server) listDatabases(c echo.Context) error {
	return respond(c, http.StatusOK, s.app.Services.ListDatabases(c.Request().Context(), c.Param("id")))
}

func (s *Server) dumpDatabase(c echo.Context) error {
	id, db := c.Param("id"), c.Param("db")
	res := s.app.Services.DumpDatabase(c.Request().Context(), id, db)
	if !res.Success {
		return c.JSON(http.StatusUnprocessableEntity, res)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", id+"-"+db+".dump"))
	return c.Blob(http.StatusOK, echo.MIMEOctetStream, res.Data)
}

func (s *Server) restoreDatabase(c echo.Context) error {
	body := c.Request().Body
	defer body.Close()
	return respond(c, http.StatusOK, s.app.Services.RestoreDatabase(c.Request().Context(), c.Param("id"), c.Param("db"), body))
}
