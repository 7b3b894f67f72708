package ports

import (
	"github.com/gin-gonic/gin"
)

// HTTPHandler is the admin surface for room inspection and teardown.
type HTTPHandler interface {
	ListRooms(c *gin.Context)
	GetRoom(c *gin.Context)
	DeleteRoom(c *gin.Context)
}
