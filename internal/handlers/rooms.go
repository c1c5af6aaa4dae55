package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/mesh-signaling/internal/models"
	"github.com/mossy-p/mesh-signaling/internal/signaling"
)

// ListRooms returns every active room with its members
func ListRooms(hub *signaling.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		rooms, err := hub.Snapshot(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Hub unavailable"})
			return
		}

		c.JSON(http.StatusOK, models.RoomList{
			Rooms: rooms,
			Total: len(rooms),
		})
	}
}

// GetRoom returns the members of one room
func GetRoom(hub *signaling.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		room, found, err := hub.Room(c.Request.Context(), c.Param("roomId"))
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Hub unavailable"})
			return
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}

		c.JSON(http.StatusOK, room)
	}
}
