package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-relay/internal/server"
	"github.com/npezzotti/go-relay/internal/types"
)

const sessionParam = "session"

func (s *GoChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *GoChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.log.Println("health check:", err)
		errResp := NewServiceUnavailableError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *GoChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	if room == "" {
		room = types.DefaultRoom
	}

	messages, err := s.cs.History(r.Context(), room)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, server.ErrInvalidInput) {
			errResp = NewBadRequestError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, messages)
}

// resumeId returns the connection id carried by the session token in the
// request, or "" if there is none or it does not verify.
func (s *GoChatApp) resumeId(r *http.Request) string {
	token := r.URL.Query().Get(sessionParam)
	if token == "" || s.sessions == nil {
		return ""
	}

	connId, err := s.sessions.Verify(token)
	if err != nil {
		s.log.Println("ignoring session token:", err)
		return ""
	}
	return connId
}

func (s *GoChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	resumeId := s.resumeId(r)

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(conn, s.cs, s.log)
	connId, err := s.cs.RegisterClient(client, resumeId)
	if err != nil {
		s.log.Println("register client:", err)
		conn.Close()
		return
	}

	info := server.SessionInfo{Id: connId}
	if s.sessions != nil {
		if info.Token, err = s.sessions.Issue(connId); err != nil {
			s.log.Println("issue session token:", err)
		}
	}
	client.QueueEvent(server.EventSession, info)

	go client.Write()
	go client.Read()
}
