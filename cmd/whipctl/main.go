// Command whipctl triggers whip commands over REST and listens for them
// over WebSocket.
package main

import "whip/internal/cli"

func main() {
	cli.Execute()
}
