package main

import "github.com/skillbridge/liveroom/cmd"

func main() {
	cmd.Execute()
}
