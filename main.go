package main

import "github.com/tunesync/tunesync/cmd"

func main() {
	cmd.Execute()
}
