package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hipsterbrown/servobus/controltable"
	"github.com/hipsterbrown/servobus/dynamixel"
	"github.com/hipsterbrown/servobus/session"
)

type connectionRequest struct {
	Port     string           `json:"port" binding:"required"`
	Protocol session.Protocol `json:"protocol"`
	Baudrate int              `json:"baudrate"`
}

type writeRequest struct {
	Address uint16 `json:"address"`
	Size    int    `json:"size" binding:"required,oneof=1 2 4"`
	Value   int64  `json:"value"`
}

type sessionStatus struct {
	State      session.State           `json:"state"`
	Connection *session.ConnectionInfo `json:"connection"`
}

func (s *Server) listPorts(c *gin.Context) {
	successResponse(c, http.StatusOK, "Ports listed", gin.H{"ports": s.session.ListPorts()})
}

func (s *Server) sessionState(c *gin.Context) {
	status := sessionStatus{State: s.session.State()}
	if info, ok := s.session.Connection(); ok {
		status.Connection = &info
	}
	successResponse(c, http.StatusOK, "Session state", status)
}

func (s *Server) openConnection(c *gin.Context) {
	var req connectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Protocol == "" {
		req.Protocol = session.Protocol(s.config.Serial.DefaultProtocol)
	}
	if req.Baudrate == 0 {
		req.Baudrate = s.config.Serial.DefaultBaudrate
	}

	if err := s.session.OpenConnection(req.Port, req.Protocol, req.Baudrate); err != nil {
		s.logger.Warn("Failed to open connection", zap.String("port", req.Port), zap.Error(err))
		errorResponse(c, statusFor(err), "Failed to open connection", err)
		return
	}

	info, _ := s.session.Connection()
	successResponse(c, http.StatusOK, "Connection opened", info)
}

func (s *Server) closeConnection(c *gin.Context) {
	if err := s.session.Disconnect(); err != nil {
		errorResponse(c, statusFor(err), "Failed to close connection", err)
		return
	}
	successResponse(c, http.StatusOK, "Connection closed", nil)
}

func (s *Server) cancelScan(c *gin.Context) {
	s.session.CancelScan()
	successResponse(c, http.StatusAccepted, "Scan cancel requested", nil)
}

func (s *Server) writeAddress(c *gin.Context) {
	id, ok := servoID(c)
	if !ok {
		return
	}

	var req writeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	data := dynamixel.EncodeValue(req.Value, req.Size)
	if err := s.session.WriteAddress(c.Request.Context(), id, req.Address, data); err != nil {
		s.logger.Warn("Write failed",
			zap.Uint8("servo_id", id),
			zap.Uint16("address", req.Address),
			zap.Error(err),
		)
		errorResponse(c, statusFor(err), "Write failed", err)
		return
	}
	successResponse(c, http.StatusOK, "Value written", req)
}

func (s *Server) listModels(c *gin.Context) {
	successResponse(c, http.StatusOK, "Models listed", gin.H{"models": controltable.List()})
}

func (s *Server) getModel(c *gin.Context) {
	number, err := strconv.ParseUint(c.Param("number"), 10, 16)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid model number", err)
		return
	}
	m, ok := controltable.ByNumber(uint16(number))
	if !ok {
		errorResponse(c, http.StatusNotFound, "Unknown model", nil)
		return
	}
	successResponse(c, http.StatusOK, "Model found", m)
}

func servoID(c *gin.Context) (uint8, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 8)
	if err != nil || id > uint64(dynamixel.BroadcastID) {
		errorResponse(c, http.StatusBadRequest, "Invalid servo id", err)
		return 0, false
	}
	return uint8(id), true
}
