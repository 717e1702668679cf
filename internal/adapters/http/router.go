package http

import (
	"context"
	"net/http"
	"time"

	"github.com/dkeye/callrelay/internal/adapters/signal"
	"github.com/dkeye/callrelay/internal/app"
	"github.com/dkeye/callrelay/internal/app/orch"
	"github.com/dkeye/callrelay/internal/config"
	"github.com/dkeye/callrelay/internal/domain"
	"github.com/dkeye/callrelay/internal/metrics"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	sessionName       = "CallRelaySession"
	clientTokenKey    = "client_token"
	hostNameKey       = "host_name"
	clientTokenMaxAge = 3600 * 24 * 7
)

// ClientTokenMiddleware gives every browser a stable token kept in the
// signed cookie session.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		token, _ := s.Get(clientTokenKey).(string)
		if token == "" {
			token = uuid.NewString()
			s.Set(clientTokenKey, token)
			if err := s.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

type createRoomRequest struct {
	HostName string `json:"hostName"`
	RoomName string `json:"roomName"`
	Password string `json:"password"`
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, m *metrics.Metrics) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: clientTokenMaxAge, HttpOnly: true})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(ClientTokenMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": o.Registry.Count(), "rooms": o.Rooms.Count()})
	})
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(m.Handler()))
	}

	api := r.Group("/api")

	api.POST("/rooms", func(c *gin.Context) {
		var req createRoomRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid body", "code": orch.CodeBadPayload})
			return
		}
		if !signal.CheckCredential(req.Password, cfg.Auth.Credential) {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": signal.ErrAuthRejected.Error(), "code": "AuthRejected"})
			return
		}
		if req.HostName == "" {
			req.HostName, _ = sessions.Default(c).Get(hostNameKey).(string)
		}
		room, err := o.Rooms.Create(req.HostName, req.RoomName)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error(), "code": orch.CodeInvalidName})
			return
		}
		s := sessions.Default(c)
		s.Set(hostNameKey, room.HostUserName)
		_ = s.Save()
		log.Info().Str("module", "adapters.http").Str("room_id", string(room.ID)).Str("sid", c.GetString(clientTokenKey)).Msg("room created")
		c.JSON(http.StatusCreated, gin.H{"success": true, "room": room})
	})

	api.GET("/rooms/:id", func(c *gin.Context) {
		room, ok := o.Rooms.Get(domain.RoomID(c.Param("id")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": app.ErrRoomNotFound.Error(), "code": orch.CodeRoomNotFound})
			return
		}
		if room.Ended || room.Expired(time.Now()) {
			c.JSON(http.StatusGone, gin.H{"success": false, "error": app.ErrRoomExpired.Error(), "code": orch.CodeRoomExpired, "room": room})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "room": room})
	})

	iceServers := toICEServers(cfg.ICEServers)
	api.GET("/ice-servers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"iceServers": iceServers})
	})

	ctrl := signal.NewSignalWSController(o, signal.Options{
		Credential: cfg.Auth.Credential,
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
	})
	api.GET("/ws/signal", func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Bool("metrics", cfg.Metrics.Enabled).Msg("router setup")
	return r
}

func toICEServers(in []config.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(in))
	for _, s := range in {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
		}
		out = append(out, srv)
	}
	return out
}
