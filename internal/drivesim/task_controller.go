package drivesim

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type taskController struct{ store *Store }

func NewTaskController(store *Store) *taskController {
	return &taskController{store}
}

func (h *taskController) Handle(c *gin.Context) {
	if h.store.TakeOutage("task") {
		respondOutage(c)
		return
	}
	taskID := c.Query("task_id")
	if taskID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing task_id"})
		return
	}
	status, ok := h.store.Poll(taskID)
	if !ok {
		respondError(c, &businessError{codeFileNotFound, "task not found"})
		return
	}
	data := gin.H{"task_id": taskID, "status": status.Status}
	if status.Message != "" {
		data["message"] = status.Message
	}
	if len(status.Saved) > 0 {
		data["save_as"] = gin.H{"save_as_top_fids": status.Saved}
	}
	respond(c, data)
}
