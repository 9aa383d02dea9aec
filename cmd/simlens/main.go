// Command simlens captures and checks simulator screenshots.
package main

import "github.com/devicelab-dev/simlens/pkg/cli"

func main() {
	cli.Execute()
}
