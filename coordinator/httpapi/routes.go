// Package httpapi wires the Coordinator's HTTP surfaces - the controller
// WebSocket upgrade, the job output upload/download endpoints and the job
// abort endpoint - onto a core/router mux.
package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/hwrig/testbed/core/handler"
	"github.com/hwrig/testbed/core/response"
	"github.com/hwrig/testbed/core/router"
	"github.com/hwrig/testbed/coordinator"
	"github.com/hwrig/testbed/pkg/jwt"
	"github.com/hwrig/testbed/storage"
)

// Deps bundles everything a request handler needs. None of these are
// request-scoped; one Deps is built once at process startup.
type Deps struct {
	Dispatcher *coordinator.Dispatcher
	Jobs       coordinator.Store
	Store      storage.Store
	Tokens     *jwt.Service
	Log        *slog.Logger
}

// Mount registers the Coordinator's routes on r.
func Mount(r router.Router[*router.Context], deps Deps) {
	r.Get("/experiment/ws", wsHandler(deps))
	r.Post("/experiment/job/{id}/output", uploadOutputHandler(deps))
	r.Get("/experiment/job/{id}/output", downloadOutputHandler(deps))
	r.Post("/jobs/{id}/abort", abortJobHandler(deps))
}

var errMissingToken = errors.New("httpapi: missing token query parameter")

func (d Deps) authenticate(r *http.Request) (controllerClaims, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		return controllerClaims{}, errMissingToken
	}
	var claims controllerClaims
	if err := d.Tokens.Parse(token, &claims); err != nil {
		return controllerClaims{}, err
	}
	return claims, nil
}

func wsHandler(deps Deps) handler.HandlerFunc[*router.Context] {
	return func(ctx *router.Context) handler.Response {
		r := ctx.Request()

		claims, err := deps.authenticate(r)
		if err != nil {
			return response.JSONWithStatus(response.ErrUnauthorized.WithError(err), http.StatusUnauthorized)
		}

		initialState := coordinator.IdleState
		if raw := r.URL.Query().Get("runningJobId"); raw != "" {
			jobID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return response.JSONWithStatus(response.ErrBadRequest.WithError(err), http.StatusBadRequest)
			}
			initialState = coordinator.Running(jobID)
		}

		var session *coordinator.Session
		return response.WebSocket(
			func(reqCtx context.Context, wsConn *websocket.Conn) error {
				return session.Serve(reqCtx)
			},
			response.WithWSOnConnect(func(reqCtx context.Context, wsConn *websocket.Conn) error {
				session = coordinator.NewSession(claims.ControllerID, wsConn, deps.Dispatcher, deps.Log)
				session.Started(reqCtx, initialState)
				return nil
			}),
			response.WithWSOnDisconnect(func(context.Context, *websocket.Conn) {
				if session != nil {
					session.Stopped()
				}
			}),
			response.WithWSErrorHandler(func(reqCtx context.Context, err error) {
				deps.Log.Warn("controller websocket session ended",
					"controller_id", claims.ControllerID, "error", err)
			}),
		)
	}
}

func uploadOutputHandler(deps Deps) handler.HandlerFunc[*router.Context] {
	return func(ctx *router.Context) handler.Response {
		if _, err := deps.authenticate(ctx.Request()); err != nil {
			return response.JSONWithStatus(response.ErrUnauthorized.WithError(err), http.StatusUnauthorized)
		}

		jobID, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
		if err != nil {
			return response.JSONWithStatus(response.ErrBadRequest.WithError(err), http.StatusBadRequest)
		}

		return func(w http.ResponseWriter, r *http.Request) error {
			data, err := io.ReadAll(r.Body)
			if err != nil {
				return response.JSONWithStatus(response.ErrBadRequest.WithError(err), http.StatusBadRequest)(w, r)
			}

			if err := deps.Store.Put(r.Context(), jobID, data); err != nil {
				if errors.Is(err, storage.ErrAlreadyUploaded) {
					return response.JSONWithStatus(response.ErrConflict.WithError(err), http.StatusConflict)(w, r)
				}
				return response.JSONWithStatus(response.ErrInternalServerError.WithError(err), http.StatusInternalServerError)(w, r)
			}

			return response.JSONWithStatus(map[string]string{"status": "stored"}, http.StatusCreated)(w, r)
		}
	}
}

func downloadOutputHandler(deps Deps) handler.HandlerFunc[*router.Context] {
	return func(ctx *router.Context) handler.Response {
		claims, err := deps.authenticate(ctx.Request())
		if err != nil {
			return response.JSONWithStatus(response.ErrUnauthorized.WithError(err), http.StatusUnauthorized)
		}

		jobID, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
		if err != nil {
			return response.JSONWithStatus(response.ErrBadRequest.WithError(err), http.StatusBadRequest)
		}

		job, err := deps.Jobs.JobByID(ctx.Request().Context(), jobID)
		if err != nil {
			if errors.Is(err, coordinator.ErrJobNotFound) {
				return response.JSONWithStatus(response.ErrNotFound, http.StatusNotFound)
			}
			return response.JSONWithStatus(response.ErrInternalServerError.WithError(err), http.StatusInternalServerError)
		}
		if job.ControllerID != claims.ControllerID {
			return response.JSONWithStatus(response.ErrForbidden, http.StatusForbidden)
		}

		data, err := deps.Store.Get(ctx.Request().Context(), jobID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return response.JSONWithStatus(response.ErrNotFound, http.StatusNotFound)
			}
			return response.JSONWithStatus(response.ErrInternalServerError.WithError(err), http.StatusInternalServerError)
		}

		return func(w http.ResponseWriter, r *http.Request) error {
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Header().Set("Content-Disposition", `attachment; filename="output.txt"`)
			_, err := w.Write(data)
			return err
		}
	}
}

func abortJobHandler(deps Deps) handler.HandlerFunc[*router.Context] {
	return func(ctx *router.Context) handler.Response {
		jobID, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
		if err != nil {
			return response.JSONWithStatus(response.ErrBadRequest.WithError(err), http.StatusBadRequest)
		}

		if err := deps.Dispatcher.Abort(ctx.Request().Context(), jobID); err != nil {
			if errors.Is(err, coordinator.ErrInvalidOperationForStatus) {
				return response.JSONWithStatus(response.ErrConflict.WithError(err), http.StatusConflict)
			}
			return response.JSONWithStatus(response.ErrInternalServerError.WithError(err), http.StatusInternalServerError)
		}

		return response.JSONWithStatus(map[string]string{"status": "aborted"}, http.StatusOK)
	}
}
