// Package base implements the parts of a dLink transport that do not depend on
// the network protocol. Protocol packages (tcp, unix) only supply a connector
// that dials or listens and applies socket options.
//
// Framing:
//
//	Every message travels as one frame: a 4 byte big endian payload length
//	followed by the serialized message. Frames are assembled in a pooled
//	buffer (bytebufferpool) and written with a single write call. The reader
//	rejects frames larger than the configured MaxFrameSize.
//
// Client side:
//
//	clientTransport owns one net.Conn. Sends are serialized by a write mutex,
//	so frames leave in Send order. A single reader goroutine decodes frames
//	and hands them to the receiver one at a time. A read or decode failure is
//	reported once via IReceiver.OnError; closing the transport on purpose is
//	silent.
//
// Server side:
//
//	serverTransport accepts streams and reads each one in its own goroutine.
//	Messages of a stream are handled strictly sequentially, which keeps
//	replies in request order as the id-less client correlator requires.
//	Shutdown closes the listener and every stream and waits for all reader
//	goroutines to finish.
package base
