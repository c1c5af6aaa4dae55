package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mossy-p/mesh-signaling/config"
	"github.com/mossy-p/mesh-signaling/internal/models"
	"github.com/mossy-p/mesh-signaling/internal/tui"
	"github.com/spf13/cobra"
)

const apiTimeout = 10 * time.Second

var roomsCmd = &cobra.Command{
	Use:   "rooms [room]",
	Short: "List active rooms on the hub, or show one room",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadClient(clientOptions())
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), apiTimeout)
		defer cancel()

		var rooms []models.RoomInfo
		if len(args) == 1 {
			room, err := fetchRoom(ctx, cfg.APIURL, args[0])
			if err != nil {
				return err
			}
			rooms = []models.RoomInfo{*room}
		} else {
			list, err := fetchRooms(ctx, cfg.APIURL)
			if err != nil {
				return err
			}
			rooms = list.Rooms
		}

		fmt.Println(tui.RoomTable(rooms))
		return nil
	},
}

func fetchRooms(ctx context.Context, base string) (*models.RoomList, error) {
	var list models.RoomList
	if err := getJSON(ctx, base+"/api/rooms", &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func fetchRoom(ctx context.Context, base, roomID string) (*models.RoomInfo, error) {
	var room models.RoomInfo
	if err := getJSON(ctx, base+"/api/rooms/"+url.PathEscape(roomID), &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("query hub: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&body) == nil && body.Error != "" {
			return fmt.Errorf("hub returned %d: %s", resp.StatusCode, body.Error)
		}
		return fmt.Errorf("hub returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
