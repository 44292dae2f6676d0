package tcs3200

import (
	"encoding/json"
	"fmt"

	zmq "github.com/pebbe/zmq4"
)

// PublishReadings publishes one JSON record per committed Reading received on
// its input to a ZMQ PUB socket. Consumers subscribe to the "READING" tag.
// It terminates when the abort channel is closed.
func PublishReadings(readings <-chan Reading, abort <-chan struct{}, portnum int) {
	pubSocket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		ProblemLogger.Printf("could not create readings publisher socket: %v", err)
		return
	}
	defer pubSocket.Close()
	hostname := fmt.Sprintf("tcp://*:%d", portnum)
	if err = pubSocket.Bind(hostname); err != nil {
		ProblemLogger.Printf("could not bind readings publisher to %s: %v", hostname, err)
		return
	}

	for {
		select {
		case <-abort:
			return
		case r := <-readings:
			message, err := json.Marshal(r)
			if err != nil {
				ProblemLogger.Printf("could not encode reading: %v", err)
				continue
			}
			if _, err = pubSocket.Send("READING", zmq.SNDMORE); err != nil {
				continue
			}
			pubSocket.SendBytes(message, 0)
		}
	}
}
