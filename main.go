package main

import "github.com/yarlson/lever/cmd"

func main() {
	cmd.Execute()
}
