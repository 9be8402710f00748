package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"evalgo.org/damp/internal/docker"
	"evalgo.org/damp/internal/labels"
	"evalgo.org/damp/internal/registry"
)

// managed returns an error unless ref names a DAMP managed container.
func (s *Server) managed(c echo.Context, ref string) error {
	info, err := s.app.Docker.API().ContainerInspect(c.Request().Context(), ref)
	if err != nil {
		if docker.IsNotFound(err) {
			return NotFoundError("Container", ref)
		}
		return errorFor(err, "Container", ref)
	}
	if info.Config == nil || !labels.Parse(info.Config.Labels).Managed {
		return NewAPIError(http.StatusForbidden, "Resource is not managed by DAMP", ref)
	}
	return nil
}

func (s *Server) getContainerState(c echo.Context) error {
	ref := c.Param("ref")
	state, err := s.app.Docker.GetContainerState(c.Request().Context(), ref)
	if err != nil {
		return errorFor(err, "Container", ref)
	}
	return c.JSON(http.StatusOK, state)
}

// streamContainerLogs upgrades to a websocket and sends the last tail lines
// followed by live output. The stream ends when either side closes.
func (s *Server) streamContainerLogs(c echo.Context) error {
	ref := c.Param("ref")
	if err := s.managed(c, ref); err != nil {
		return err
	}

	tail := 100
	if v := c.QueryParam("tail"); v == "all" {
		tail = 0
	} else if v != "" {
		tail, _ = strconv.Atoi(v)
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	var mu sync.Mutex
	write := func(msgType MessageType, data interface{}) {
		mu.Lock()
		defer mu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteJSON(Message{Type: msgType, Timestamp: time.Now(), Data: data})
	}

	ended := make(chan struct{})
	stop, err := s.app.Docker.StreamLogs(c.Request().Context(), ref, docker.LogOptions{
		Tail:   tail,
		Follow: true,
		OnEnd: func(err error) {
			end := map[string]string{}
			if err != nil {
				end["error"] = err.Error()
			}
			write(MessageLogEnd, end)
			close(ended)
		},
	}, func(stream, line string) {
		write(MessageLog, LogLine{Stream: stream, Line: line})
	})
	if err != nil {
		write(MessageLogEnd, map[string]string{"error": err.Error()})
		return nil
	}
	defer stop()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-ended:
		mu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		mu.Unlock()
	case <-closed:
	}
	return nil
}

// bootstrapCertificates reruns the certificate sequence against the
// installed reverse proxy.
func (s *Server) bootstrapCertificates(c echo.Context) error {
	ctx := c.Request().Context()
	proxy, err := s.app.Docker.FindServiceContainer(ctx, registry.Caddy)
	if err != nil {
		return errorFor(err, "Service", registry.Caddy)
	}
	if proxy == nil {
		return NotFoundError("Service", registry.Caddy)
	}
	res, err := s.app.Certs.Run(ctx, proxy.ID)
	if err != nil {
		return errorFor(err, "Service", registry.Caddy)
	}
	return c.JSON(http.StatusOK, res)
}
