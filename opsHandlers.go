package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/macantine_backend/models"
	"github.com/mmdatafocus/macantine_backend/utils"
)

// requireStaff lets only staff accounts reach the ops routes.
func requireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := models.GetSessionUser(c.Request.Context())
		if err != nil {
			respondError(c, "requireStaff", err)
			c.Abort()
			return
		}
		if !user.IsStaff {
			respondError(c, "requireStaff", &utils.AuthorizationError{})
			c.Abort()
			return
		}
		c.Next()
	}
}

var outboxNotFound = &utils.NotFoundError{Resource: "outbox", Message: "Aucun message pour cette référence"}

func outboxReference(c *gin.Context) (string, int, error) {
	id, err := pathId(c, "referenceId", outboxNotFound)
	if err != nil {
		return "", 0, err
	}
	return c.Param("referenceType"), id, nil
}

func outboxStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		refType, refId, err := outboxReference(c)
		if err != nil {
			respondError(c, "outboxStatusHandler", err)
			return
		}
		status, err := models.GetOutboxStatus(c.Request.Context(), refType, refId)
		if err != nil {
			respondError(c, "outboxStatusHandler", err)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

func outboxRequeueHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		refType, refId, err := outboxReference(c)
		if err != nil {
			respondError(c, "outboxRequeueHandler", err)
			return
		}
		status, err := models.RequeueOutbox(c.Request.Context(), refType, refId)
		if err != nil {
			respondError(c, "outboxRequeueHandler", err)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

type outboxReplayRequest struct {
	EventType string `json:"eventType"`
}

// outboxReplayHandler puts DEAD messages back in the queue, optionally for one event type.
func outboxReplayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req outboxReplayRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, "outboxReplayHandler", utils.NewValidationError("eventType", "Données invalides"))
				return
			}
		}
		replayed, err := models.ReplayDeadOutbox(c.Request.Context(), req.EventType)
		if err != nil {
			respondError(c, "outboxReplayHandler", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"eventType": req.EventType, "replayed": replayed})
	}
}
