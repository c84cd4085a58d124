package main

import "github.com/frahmantamala/traffic-auth/cmd"

func main() {
	cmd.Execute()
}
