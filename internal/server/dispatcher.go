package server

import (
	"log"
	"strings"
)

type sendReq struct {
	client *Client
	roomId int
	text   string
}

type router interface {
	route(req *sendReq)
}

// Dispatcher accepts chat messages from connections and hands them to the
// worker of the target room. Sending is fire-and-forget: invalid requests
// are dropped and nothing is reported back to the sender.
//
// A connection may only send to its active room. Joining is what checks
// game existence, DM pairing and membership, so a roomId the connection has
// not joined is dropped rather than trusted.
type Dispatcher struct {
	log      *log.Logger
	registry *Registry
	router   router
}

func NewDispatcher(logger *log.Logger, registry *Registry, r router) *Dispatcher {
	return &Dispatcher{
		log:      logger,
		registry: registry,
		router:   r,
	}
}

func (d *Dispatcher) Send(c *Client, roomId int, text string) {
	text = strings.TrimSpace(text)
	if text == "" || roomId <= 0 {
		return
	}

	if active := d.registry.ActiveRoom(c); active != roomId {
		d.log.Printf("dropping message from %q to room %d, active room is %d", c.user.Username, roomId, active)
		return
	}

	d.router.route(&sendReq{
		client: c,
		roomId: roomId,
		text:   text,
	})
}
