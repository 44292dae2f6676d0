package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"

	zmq "github.com/pebbe/zmq4"

	tcs3200 "github.com/CedricGoby/rpi-tcs3200"
)

// dump subscribes to the daemon's reading publisher and prints each message,
// one line per reading, until n messages are seen (n <= 0 means forever).
func dump(endpoint string, n int) error {
	sub, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return err
	}
	defer sub.Close()
	if err = sub.Connect(endpoint); err != nil {
		return err
	}
	if err = sub.SetSubscribe(""); err != nil {
		return err
	}
	fmt.Printf("Subscribed to %s\n", endpoint)

	for i := 0; n <= 0 || i < n; i++ {
		frames, err := sub.RecvMessage(0)
		if err != nil {
			return err
		}
		if len(frames) < 2 {
			fmt.Printf("short message: %q\n", frames)
			continue
		}
		var rd tcs3200.Reading
		if err := json.Unmarshal([]byte(frames[1]), &rd); err != nil {
			fmt.Printf("[%s] %s\n", frames[0], frames[1])
			continue
		}
		fmt.Printf("[%s] %s  RGB %6.1f %6.1f %6.1f  Hz %8.1f %8.1f %8.1f  tally %4d %4d %4d\n",
			frames[0], rd.Time.Format("15:04:05.000"),
			rd.RGB[0], rd.RGB[1], rd.RGB[2],
			rd.Hertz[0], rd.Hertz[1], rd.Hertz[2],
			rd.Tally[0], rd.Tally[1], rd.Tally[2])
	}
	return nil
}

func main() {
	var n int
	var port int
	host := "localhost"
	flag.IntVar(&n, "n", 0, "Number of readings to dump (0 means no limit)")
	flag.IntVar(&port, "port", tcs3200.Ports.Readings, "Port to subscribe to")
	flag.Usage = func() {
		fmt.Printf("tcsdump, for printing readings published by the daemon, by default from localhost:%d\n",
			tcs3200.Ports.Readings)
		fmt.Println("Usage: tcsdump [flags] [host]")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() > 0 {
		host = flag.Arg(0)
	}

	endpoint := fmt.Sprintf("tcp://%s:%d", host, port)
	if err := dump(endpoint, n); err != nil {
		log.Fatal(err)
	}
}
