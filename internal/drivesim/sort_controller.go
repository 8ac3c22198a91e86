package drivesim

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type sortController struct{ store *Store }

func NewSortController(store *Store) *sortController {
	return &sortController{store}
}

func (h *sortController) Handle(c *gin.Context) {
	if h.store.TakeOutage("sort") {
		respondOutage(c)
		return
	}
	pdir := c.Query("pdir_fid")
	if pdir == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing pdir_fid"})
		return
	}
	list, ok := h.store.List(pdir)
	if !ok {
		respondError(c, &businessError{codeFileNotFound, "directory not found"})
		return
	}
	respond(c, gin.H{"list": list})
}
