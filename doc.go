// Package serial opens a serial port as a Session, optionally streams
// incoming bytes on a background reader, and writes bytes back.
//
// The reader polls the transport and forwards every non-empty chunk, in
// order, to a FIFO delivery queue drained with QueuedData and to an optional
// Listener. ReadLine and ReadBytes bypass the queue and read the port
// directly; they refuse to run while the reader is active because both
// would consume the same byte stream.
//
// Example:
//
//	s := serial.New(serial.Config{PortName: "/dev/ttyUSB0", BaudRate: 9600})
//	if err := s.Connect(); err != nil {
//	    return err
//	}
//	defer s.Disconnect()
//
//	s.SetListener(func(chunk []byte) { fmt.Printf("%q\n", chunk) })
//	if err := s.StartReading(); err != nil {
//	    return err
//	}
//
// Failures never panic out of a Session. Transport problems come back as
// *TransportError, everything else as *UnexpectedError or one of the
// sentinel errors. When the reader dies on its own, Connected turns false,
// Err reports why, and the channel from Done is closed.
package serial
