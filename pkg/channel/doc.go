/*
Package channel delivers decoded workflow events from a backend to a single
consumer.

Two transports are provided:

  - StreamChannel: one HTTP request whose response body is newline-delimited
    JSON. Receive only; the channel ends when the body ends.
  - SocketChannel: a persistent WebSocket exchanging {"type","data"} messages.
    Unexpected closes are handed to a Reconnector.

Both report transport transitions as domain.StatusEvent values with
Connectivity set, through the same listener that receives workflow events.
Listeners run serially on one goroutine per channel, in arrival order.
*/
package channel
