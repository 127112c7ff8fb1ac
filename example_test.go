package serial_test

import (
	"fmt"
	"time"

	"github.com/Station-Manager/serialreader"
)

func Example() {
	cfg := serial.DefaultConfig()
	cfg.PortName = "/dev/ttyUSB0"
	cfg.BaudRate = 115200

	s := serial.New(cfg)
	if err := s.Connect(); err != nil {
		fmt.Println("connect error:", err)
		return
	}
	defer s.Disconnect()

	if err := s.Write([]byte("AT\r\n")); err != nil {
		fmt.Println("write error:", err)
		return
	}
	line, err := s.ReadLine()
	if err != nil {
		fmt.Println("read error:", err)
		return
	}
	fmt.Println("response:", line)
}

func ExampleSession_StartReading() {
	s := serial.New(serial.DefaultConfig())
	if err := s.Connect(); err != nil {
		fmt.Println("connect error:", err)
		return
	}
	defer s.Disconnect()

	s.SetListener(func(chunk []byte) {
		fmt.Printf("received %q\n", chunk)
	})
	if err := s.StartReading(); err != nil {
		fmt.Println("start error:", err)
		return
	}

	select {
	case <-s.Done():
		fmt.Println("reader stopped:", s.Err())
	case <-time.After(5 * time.Second):
	}

	for {
		chunk, ok := s.QueuedData()
		if !ok {
			break
		}
		fmt.Println(len(chunk), "bytes queued")
	}
}
