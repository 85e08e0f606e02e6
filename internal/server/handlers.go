package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/websocket"

	"whip/internal/command"
	"whip/internal/metrics"
	"whip/internal/state"
	"whip/internal/telemetry"
)

type sentBody struct {
	Status  string          `json:"status"`
	Payload command.Command `json:"payload"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWhip(w http.ResponseWriter, r *http.Request) {
	token, err := bearerToken(r.Header.Get("Authorization"))
	if err != nil {
		s.opts.Metrics.Command(metrics.ResultUnauthorized)
		writeDetail(w, http.StatusUnauthorized, authDetail(err))
		return
	}
	fp := telemetry.TokenFingerprint(token)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.opts.Metrics.Command(metrics.ResultInvalid)
		writeDetail(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return
	}
	req, err := command.ParseRequest(body)
	if err != nil {
		s.opts.Metrics.Command(metrics.ResultInvalid)
		var ve *command.ValidationError
		if errors.As(err, &ve) {
			writeDetail(w, http.StatusUnprocessableEntity, ve.Issues)
			return
		}
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	cmd := command.NewWhip(req, s.opts.Now())
	payload, err := json.Marshal(cmd)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	conn, err := s.registry.Deliver(token, payload)
	if err != nil {
		result := metrics.ResultNoClient
		if conn != nil {
			result = metrics.ResultSendFailed
			s.log.Warn("whip send failed, dropping listener", "token", fp, "conn_id", conn.ID(), "err", err)
			s.opts.Metrics.SetActive(s.registry.Count())
		}
		s.opts.Metrics.Command(result)
		s.opts.Audit.Log(telemetry.Record{
			Type:     "dispatch",
			Token:    fp,
			Status:   http.StatusNotFound,
			Duration: cmd.Duration,
			Side:     string(cmd.Side),
			Message:  result,
		})
		writeDetail(w, http.StatusNotFound, detailNoClient)
		return
	}

	s.opts.Metrics.Command(metrics.ResultSent)
	s.opts.Audit.Log(telemetry.Record{
		Type:     "dispatch",
		ConnID:   conn.ID(),
		Token:    fp,
		Status:   http.StatusAccepted,
		Duration: cmd.Duration,
		Side:     string(cmd.Side),
	})
	s.log.Info("whip sent", "token", fp, "conn_id", conn.ID(), "duration", cmd.Duration, "side", cmd.Side)
	writeJSON(w, http.StatusAccepted, sentBody{Status: "sent", Payload: cmd})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token, authErr := bearerToken(r.Header.Get("Authorization"))

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		s.log.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	conn := newWSConn(telemetry.MakeConnID(), r.RemoteAddr, ws, s.opts.WS)
	if authErr != nil {
		s.log.Info("websocket rejected", "remote", r.RemoteAddr, "reason", authErr.Error())
		s.opts.Audit.Log(telemetry.Record{Type: "reject", ConnID: conn.id, Remote: conn.remote, Message: authErr.Error()})
		_ = conn.Close(websocket.ClosePolicyViolation, "")
		return
	}

	if !s.track(conn) {
		_ = conn.Close(websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer s.untrack(conn)

	fp := telemetry.TokenFingerprint(token)
	if prev := s.registry.Register(token, conn); prev != nil {
		s.log.Info("listener superseded", "token", fp, "old_conn_id", prev.ID(), "conn_id", conn.id)
	}
	s.opts.Metrics.ConnOpened()
	s.opts.Metrics.SetActive(s.registry.Count())
	s.opts.Audit.Log(telemetry.Record{Type: "connect", ConnID: conn.id, Remote: conn.remote, Token: fp})
	s.log.Info("listener connected", "token", fp, "conn_id", conn.id, "remote", conn.remote)

	go conn.pingLoop()
	readErr := conn.readLoop()
	conn.release()

	s.registry.Unregister(token, conn)
	s.opts.Metrics.SetActive(s.registry.Count())
	s.opts.Audit.Log(telemetry.Record{Type: "disconnect", ConnID: conn.id, Remote: conn.remote, Token: fp, Message: closeReason(readErr)})
	s.log.Info("listener disconnected", "token", fp, "conn_id", conn.id, "reason", closeReason(readErr))
}

func closeReason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

var _ state.Conn = (*wsConn)(nil)
