package tcs3200

// Contains the client updater, which publishes JSON-encoded messages giving
// the latest daemon state on the status port.

import (
	"encoding/json"
	"fmt"

	zmq "github.com/pebbe/zmq4"
)

// ClientUpdate carries a tagged state object to be published on the status
// port.
type ClientUpdate struct {
	tag   string
	state interface{}
}

// RunClientUpdater forwards any message from its input channel to a ZMQ
// publisher socket, as a two-frame message: the tag, then the JSON-encoded
// state. It returns when the messages channel is closed.
func RunClientUpdater(messages <-chan ClientUpdate, portstatus int) {
	pubSocket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		ProblemLogger.Printf("could not create status publisher socket: %v", err)
		return
	}
	defer pubSocket.Close()
	hostname := fmt.Sprintf("tcp://*:%d", portstatus)
	if err = pubSocket.Bind(hostname); err != nil {
		ProblemLogger.Printf("could not bind status publisher to %s: %v", hostname, err)
		return
	}

	for update := range messages {
		message, err := json.Marshal(update.state)
		if err != nil {
			ProblemLogger.Printf("could not encode %s update: %v", update.tag, err)
			continue
		}
		UpdateLogger.Printf("%s %s", update.tag, message)
		if _, err = pubSocket.Send(update.tag, zmq.SNDMORE); err != nil {
			continue
		}
		pubSocket.SendBytes(message, 0)
	}
}
