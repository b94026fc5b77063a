package main

import "github.com/okulov/passport/cmd/passport/cmd"

func main() {
	cmd.Execute()
}
