package scheduler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const operatorReplyTimeout = 30 * time.Second

// callbackPayload mirrors reporter.Event's wire shape: the Minion
// process posts exactly this JSON to OVERLORD_CALLBACK_URL.
type callbackPayload struct {
	MinionID  string                 `json:"minion_id"`
	Event     string                 `json:"event"`
	Issue     int                    `json:"issue"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data"`
	Timestamp string                 `json:"timestamp"`
}

type operatorRequest struct {
	Text string `json:"text" binding:"required"`
}

type answerRequest struct {
	MinionID   string `json:"minion_id" binding:"required"`
	QuestionID string `json:"question_id" binding:"required"`
	Answer     string `json:"answer" binding:"required"`
}

// RegisterRoutes wires the Minion callback/answer-poll endpoints and the
// operator command surface onto router.
func (s *Scheduler) RegisterRoutes(router gin.IRouter) {
	router.POST("/callback", s.handleCallbackHTTP)
	router.GET("/answer/:minion_id", s.handleAnswerHTTP)
	router.POST("/operator/command", s.handleOperatorHTTP)
	router.POST("/operator/answer", s.handleOperatorAnswerHTTP)
	router.GET("/health", s.handleHealthHTTP)
}

func (s *Scheduler) handleCallbackHTTP(c *gin.Context) {
	var payload callbackPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.Submit(CallbackEvent{
		MinionID: payload.MinionID,
		Event:    payload.Event,
		Issue:    payload.Issue,
		Message:  payload.Message,
		Data:     payload.Data,
	})
	c.Status(http.StatusOK)
}

// handleAnswerHTTP is the endpoint a Minion's poll_answer loop hits: the
// question_id it was handed by its own question callback is echoed back as
// a query param, since a Minion has no other way to disambiguate multiple
// outstanding questions.
func (s *Scheduler) handleAnswerHTTP(c *gin.Context) {
	minionID := c.Param("minion_id")
	questionID := c.Query("question_id")

	answer, ok, err := s.deps.Answers.Get(c.Request.Context(), minionID, questionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"answered": ok, "answer": answer})
}

func (s *Scheduler) handleOperatorHTTP(c *gin.Context) {
	var req operatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cmd, ok := ParseCommand(req.Text)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"reply": "unrecognized command; try `help`"})
		return
	}

	reply := make(chan string, 1)
	s.Submit(OperatorCommandEvent{Command: cmd, Reply: reply})

	select {
	case text := <-reply:
		c.JSON(http.StatusOK, gin.H{"reply": text})
	case <-c.Request.Context().Done():
	case <-time.After(operatorReplyTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "scheduler did not reply in time"})
	}
}

func (s *Scheduler) handleOperatorAnswerHTTP(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.deps.Answers.Put(c.Request.Context(), req.MinionID, req.QuestionID, req.Answer); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

func (s *Scheduler) handleHealthHTTP(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "paused": s.isPaused()})
}
