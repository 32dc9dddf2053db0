package httpserver

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pscheid92/fanout/internal/app"
	"github.com/pscheid92/fanout/internal/domain"
	apperrors "github.com/pscheid92/fanout/internal/platform/errors"
)

func (s *Server) registerConnectionRoutes() {
	s.echo.GET("/connections", s.handleCountConnections)
	s.echo.POST("/connections/:connectionId", s.handleConnect)
	s.echo.DELETE("/connections/:connectionId", s.handleDisconnect)
	s.echo.GET("/connections/:connectionId", s.handleGetConnection)
}

// tenantLogin reads the optional admin, appname and password query parameters.
func tenantLogin(c echo.Context) *domain.TenantLogin {
	admin := c.QueryParam("admin")
	if admin == "" {
		return nil
	}
	return &domain.TenantLogin{
		Admin:    admin,
		AppName:  c.QueryParam("appname"),
		Password: c.QueryParam("password"),
	}
}

func connectionKey(c echo.Context) domain.ConnectionKey {
	return domain.ConnectionKey{Tenant: c.QueryParam("admin"), ID: c.Param("connectionId")}
}

func (s *Server) handleConnect(c echo.Context) error {
	req := app.ConnectRequest{ConnectionID: c.Param("connectionId"), Tenant: tenantLogin(c)}

	if _, err := s.connections.Connect(c.Request().Context(), req); err != nil {
		errType := apperrors.TypeInternal
		if errors.Is(err, domain.ErrInvalidConnection) || app.IsAuthFailure(err) {
			errType = apperrors.TypeValidation
		}
		return HandleTextError(c, apperrors.Wrap(errType, "Failed to connect: "+err.Error(), err).
			WithField("connection_id", req.ConnectionID))
	}

	if err := c.String(http.StatusOK, "Connected."); err != nil {
		return fmt.Errorf("failed to send response: %w", err)
	}
	return nil
}

// handleDisconnect removes the record named by ?admin= and the ID. Without
// admin the ID is looked up under every tenant, since a gateway's disconnect
// callback usually only knows the connection ID.
func (s *Server) handleDisconnect(c echo.Context) error {
	key := connectionKey(c)

	var err error
	if key.Tenant != "" {
		err = s.connections.Disconnect(c.Request().Context(), key)
	} else {
		_, err = s.connections.DisconnectID(c.Request().Context(), key.ID)
	}
	if err != nil {
		errType := apperrors.TypeInternal
		if errors.Is(err, domain.ErrInvalidConnection) {
			errType = apperrors.TypeValidation
		}
		return HandleTextError(c, apperrors.Wrap(errType, "Disconnect error: "+err.Error(), err).
			WithField("connection_id", key.ID))
	}

	if err := c.String(http.StatusOK, "Disconnected."); err != nil {
		return fmt.Errorf("failed to send response: %w", err)
	}
	return nil
}

func (s *Server) handleGetConnection(c echo.Context) error {
	key := connectionKey(c)

	record, err := s.connections.Lookup(c.Request().Context(), key)
	if errors.Is(err, domain.ErrConnectionNotFound) {
		return apperrors.NotFoundError("connection not found").WithField("connection_id", key.ID)
	}
	if err != nil {
		return apperrors.InternalError("failed to look up connection", err).WithField("connection_id", key.ID)
	}

	if err := c.JSON(http.StatusOK, record); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleCountConnections(c echo.Context) error {
	n, err := s.connections.Count(c.Request().Context())
	if err != nil {
		return apperrors.InternalError("failed to count connections", err)
	}

	if err := c.JSON(http.StatusOK, map[string]int{"count": n}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
