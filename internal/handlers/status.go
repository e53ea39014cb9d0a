package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pion/logging"

	"github.com/mossy-p/webrtc-device/internal/logutil"
	"github.com/mossy-p/webrtc-device/internal/middleware"
	"github.com/mossy-p/webrtc-device/internal/models"
	"github.com/mossy-p/webrtc-device/internal/room"
)

// Controller is the part of the active room the status API uses
type Controller interface {
	Snapshot() models.RoomSnapshot
	Mute(muted bool) error
}

// RoomSource returns the active room, or nil between joins
type RoomSource func() Controller

// Status serves the local status and control API
type Status struct {
	device string
	source RoomSource
	log    logging.LeveledLogger
}

// NewStatus creates the status handlers for device
func NewStatus(device string, source RoomSource, factory logging.LoggerFactory) *Status {
	return &Status{device: device, source: source, log: logutil.Scoped(factory, "status")}
}

// Health reports that the process is up
func (s *Status) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetStatus returns the negotiation state of the active room
func (s *Status) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.status())
}

// SetMute mutes or unmutes the published microphone track
func (s *Status) SetMute(c *gin.Context) {
	var req models.MuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	active := s.source()
	if active == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Not in a room"})
		return
	}

	if err := active.Mute(*req.Muted); err != nil {
		switch {
		case errors.Is(err, room.ErrNoTrack):
			c.JSON(http.StatusConflict, gin.H{"error": "No published track"})
		case errors.Is(err, room.ErrNotRunning):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Not in a room"})
		default:
			s.log.Warnf("Failed to mute: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to mute"})
		}
		return
	}

	s.log.Infof("Microphone muted=%t", *req.Muted)
	c.JSON(http.StatusOK, gin.H{"muted": *req.Muted})
}

func (s *Status) status() models.StatusResponse {
	res := models.StatusResponse{Device: s.device}
	if active := s.source(); active != nil {
		snap := active.Snapshot()
		res.Joined = true
		res.Room = &snap
	}
	return res
}

// Router builds the status API. Control endpoints require an operator token
// when operatorSecret is set.
func (s *Status) Router(allowedOrigins []string, operatorSecret string) *gin.Engine {
	router := gin.Default()
	router.Use(middleware.OriginFilter(allowedOrigins))

	router.GET("/health", s.Health)
	router.GET("/status", s.GetStatus)
	router.GET("/ws/status", s.StreamStatus)
	router.POST("/mute", middleware.OperatorAuth(operatorSecret), s.SetMute)

	return router
}
