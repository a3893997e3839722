package respawn

import (
	"fmt"
	"hash/crc32"
	"time"

	"github.com/cbodonnell/tether/pkg/events"
)

// Client mirrors the coordinator on a client. Its state changes only when
// an event is applied.
type Client struct {
	state     StateChange
	countdown Countdown
	// CountdownEnds is the local time the announced countdown runs out.
	CountdownEnds time.Time
}

func NewClient() *Client {
	return &Client{}
}

func (c *Client) State() State {
	return c.state.State
}

// Assignment returns the seat assigned to sessionID in the current transport.
func (c *Client) Assignment(sessionID byte) (Assignment, bool) {
	for _, a := range c.state.Assignments {
		if a.SessionID == sessionID {
			return a, true
		}
	}
	return Assignment{}, false
}

func (c *Client) CountdownActive() bool {
	return c.countdown.Active
}

// ApplyEvent applies one coordinator event received at now.
func (c *Client) ApplyEvent(t events.EventType, payload []byte, now time.Time) error {
	switch t {
	case EventState:
		change, err := DecodeStateChange(payload)
		if err != nil {
			return err
		}
		c.state = change
	case EventCountdown:
		countdown, err := DecodeCountdown(payload)
		if err != nil {
			return err
		}
		c.countdown = countdown
		c.CountdownEnds = now.Add(countdown.Remaining)
	default:
		return fmt.Errorf("unknown respawn event type %d", t)
	}
	return nil
}

// Checksum re-encodes the client's view of one event type.
func (c *Client) Checksum(t events.EventType) (uint32, bool) {
	switch t {
	case EventState:
		return crc32.ChecksumIEEE(c.state.Encode()), true
	case EventCountdown:
		return crc32.ChecksumIEEE(c.countdown.Encode()), true
	default:
		return 0, false
	}
}
